package bus

import (
	"testing"

	"go.viam.com/test"
)

func TestSignalExtract(t *testing.T) {
	t.Run("little endian unsigned", func(t *testing.T) {
		sig := Signal{Scalar: 0.1, Start: 0, Length: 16, LittleEndian: true}
		v, err := sig.Extract([]byte{0xE8, 0x03})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldAlmostEqual, 100.0)
	})

	t.Run("little endian signed", func(t *testing.T) {
		sig := Signal{Scalar: 0.0078125, Start: 32, Length: 16, LittleEndian: true, Signed: true}
		data := []byte{0, 0, 0, 0, 0x00, 0xFF, 0, 0}
		v, err := sig.Extract(data)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldAlmostEqual, -2.0)
	})

	t.Run("field not byte aligned", func(t *testing.T) {
		sig := Signal{Scalar: 1, Start: 4, Length: 8, LittleEndian: true}
		v, err := sig.Extract([]byte{0xA0, 0x05})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldEqual, 0x5A)
	})

	t.Run("big endian", func(t *testing.T) {
		sig := Signal{Scalar: 1, Start: 0, Length: 16}
		v, err := sig.Extract([]byte{0x01, 0x02})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldEqual, 0x0102)
	})

	t.Run("short payload", func(t *testing.T) {
		sig := Signal{Scalar: 1, Start: 8, Length: 16, LittleEndian: true}
		_, err := sig.Extract([]byte{0x01, 0x02})
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("bad length", func(t *testing.T) {
		sig := Signal{Scalar: 1, Start: 0, Length: 0, LittleEndian: true}
		_, err := sig.Extract([]byte{0x01})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestSignalInsert(t *testing.T) {
	t.Run("round trip keeps neighbours", func(t *testing.T) {
		sig := Signal{Scalar: 1.0 / 128, Start: 40, Length: 12, LittleEndian: true}
		data := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x00, 0xF0, 0x77}
		test.That(t, sig.Insert(data, 12.5), test.ShouldBeNil)

		v, err := sig.Extract(data)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldAlmostEqual, 12.5)
		test.That(t, data[4], test.ShouldEqual, 0x55)
		test.That(t, data[6]&0xF0, test.ShouldEqual, 0xF0)
		test.That(t, data[7], test.ShouldEqual, 0x77)
	})

	t.Run("signed negative", func(t *testing.T) {
		sig := Signal{Scalar: 1.0 / 1024, Start: 32, Length: 16, LittleEndian: true, Signed: true}
		data := make([]byte, 8)
		test.That(t, sig.Insert(data, -1.5), test.ShouldBeNil)
		v, err := sig.Extract(data)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldAlmostEqual, -1.5)
	})

	t.Run("saturates", func(t *testing.T) {
		sig := Signal{Scalar: 1, Start: 0, Length: 8, LittleEndian: true}
		data := make([]byte, 1)
		test.That(t, sig.Insert(data, 1000), test.ShouldBeNil)
		test.That(t, data[0], test.ShouldEqual, 0xFF)
		test.That(t, sig.Insert(data, -3), test.ShouldBeNil)
		test.That(t, data[0], test.ShouldEqual, 0)
	})

	t.Run("zero scalar", func(t *testing.T) {
		sig := Signal{Start: 0, Length: 8, LittleEndian: true}
		test.That(t, sig.Insert(make([]byte, 1), 1), test.ShouldNotBeNil)
	})
}
