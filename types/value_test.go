package types

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
)

func TestFheType(t *testing.T) {
	c := qt.New(t)

	sizes := map[FheType]int{EBool: 1, EUint8: 1, EUint16: 2, EUint32: 4, EUint64: 8, EAddress: 20}
	for ft, size := range sizes {
		c.Assert(ft.Size(), qt.Equals, size, qt.Commentf("%s", ft))
		c.Assert(ft.Valid(), qt.IsTrue)
	}
	c.Assert(FheType(1).Valid(), qt.IsFalse)
	c.Assert(FheType(6).Size(), qt.Equals, 0)

	for in, want := range map[string]FheType{
		"euint32": EUint32,
		"uint32":  EUint32,
		"bool":    EBool,
		"EBOOL":   EBool,
		"address": EAddress,
	} {
		got, err := ParseFheType(in)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, want)
	}
	_, err := ParseFheType("euint128")
	c.Assert(err, qt.ErrorIs, ErrUnsupportedType)
}

func TestNewValueRanges(t *testing.T) {
	c := qt.New(t)

	maxUint64, _ := new(big.Int).SetString("18446744073709551615", 10)
	testCases := []struct {
		name    string
		t       FheType
		in      any
		wantErr error
	}{
		{name: "uint8 zero", t: EUint8, in: 0},
		{name: "uint8 max", t: EUint8, in: 255},
		{name: "uint8 overflow", t: EUint8, in: 256, wantErr: ErrValueOutOfRange},
		{name: "uint8 negative", t: EUint8, in: -1, wantErr: ErrValueOutOfRange},
		{name: "uint16 max", t: EUint16, in: uint16(65535)},
		{name: "uint16 overflow", t: EUint16, in: 65536, wantErr: ErrValueOutOfRange},
		{name: "uint32 max", t: EUint32, in: uint32(4294967295)},
		{name: "uint32 overflow", t: EUint32, in: int64(4294967296), wantErr: ErrValueOutOfRange},
		{name: "uint64 max", t: EUint64, in: maxUint64},
		{name: "uint64 overflow", t: EUint64, in: new(big.Int).Add(maxUint64, big.NewInt(1)), wantErr: ErrValueOutOfRange},
		{name: "decimal string", t: EUint64, in: "18446744073709551615"},
		{name: "hex string", t: EUint16, in: "0xffff"},
		{name: "garbage string", t: EUint16, in: "12abc", wantErr: ErrValueOutOfRange},
		{name: "float rejected", t: EUint32, in: 1.5, wantErr: ErrValueOutOfRange},
		{name: "bool", t: EBool, in: true},
		{name: "bool for uint", t: EUint8, in: true, wantErr: ErrValueOutOfRange},
		{name: "bool as integer", t: EBool, in: 2, wantErr: ErrValueOutOfRange},
		{name: "address", t: EAddress, in: "0x" + strings.Repeat("a", 40)},
		{name: "address short", t: EAddress, in: "0x1234", wantErr: ErrInvalidAddress},
		{name: "address not hex", t: EAddress, in: "not-an-address", wantErr: ErrInvalidAddress},
		{name: "address wrong type", t: EAddress, in: 42, wantErr: ErrInvalidAddress},
		{name: "unsupported kind", t: FheType(9), in: 1, wantErr: ErrUnsupportedType},
	}
	for _, tc := range testCases {
		c.Run(tc.name, func(c *qt.C) {
			v, err := NewValue(tc.t, tc.in)
			if tc.wantErr != nil {
				c.Assert(err, qt.ErrorIs, tc.wantErr)
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(v.Type, qt.Equals, tc.t)
			c.Assert(InRange(v.Type, v.Value.MathBigInt()), qt.IsTrue)
		})
	}
}

func TestValueAccessors(t *testing.T) {
	c := qt.New(t)

	addr := common.HexToAddress("0x00000000000000000000000000000000000000Aa")
	v := AddressValue(addr)
	c.Assert(v.Address(), qt.Equals, addr)
	c.Assert(v.Bytes(), qt.HasLen, 20)
	c.Assert(v.String(), qt.Equals, "eaddress("+addr.Hex()+")")

	b := NewBool(true)
	c.Assert(b.Bool(), qt.IsTrue)
	c.Assert(b.Bytes(), qt.DeepEquals, []byte{1})

	u, err := NewUint(EUint16, 0x0102)
	c.Assert(err, qt.IsNil)
	c.Assert(u.Bytes(), qt.DeepEquals, []byte{1, 2})
	c.Assert(MaxValue(EUint16).Uint64(), qt.Equals, uint64(65535))

	unset := TypedValue{Type: EUint32}
	c.Assert(unset.Int().Sign(), qt.Equals, 0)
	c.Assert(unset.Bool(), qt.IsFalse)
	c.Assert(unset.Bytes(), qt.DeepEquals, []byte{0, 0, 0, 0})
	c.Assert(TypedValue{Type: EAddress}.Address(), qt.Equals, common.Address{})
}

func TestEncodeDecodeValues(t *testing.T) {
	c := qt.New(t)

	u32, err := NewUint(EUint32, 42)
	c.Assert(err, qt.IsNil)
	u64, err := NewValue(EUint64, "18446744073709551615")
	c.Assert(err, qt.IsNil)
	addr, err := NewAddress("0x" + strings.Repeat("b", 40))
	c.Assert(err, qt.IsNil)
	values := []TypedValue{u32, NewBool(true), u64, addr}

	encoded := EncodeValues(values)
	c.Assert(encoded, qt.HasLen, (1+4)+(1+1)+(1+8)+(1+20))
	c.Assert(encoded[:5], qt.DeepEquals, []byte{byte(EUint32), 0, 0, 0, 42})

	decoded, err := DecodeValues(encoded)
	c.Assert(err, qt.IsNil)
	c.Assert(decoded, qt.HasLen, len(values))
	for i := range values {
		c.Assert(decoded[i].Type, qt.Equals, values[i].Type)
		c.Assert(decoded[i].Value.String(), qt.Equals, values[i].Value.String())
	}

	_, err = DecodeValues(encoded[:len(encoded)-1])
	c.Assert(err, qt.ErrorMatches, `truncated eaddress payload.*`)
	_, err = DecodeValues([]byte{1, 0})
	c.Assert(err, qt.ErrorIs, ErrUnsupportedType)

	empty, err := DecodeValues(nil)
	c.Assert(err, qt.IsNil)
	c.Assert(empty, qt.HasLen, 0)
}
