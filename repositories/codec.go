package repositories

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	decimalType     = reflect.TypeOf(decimal.Decimal{})
	defaultRegistry = NewRegistry()
)

// NewRegistry returns the default BSON registry extended so decimal.Decimal round-trips
// through Decimal128. Server-side $inc and $sum then stay exact.
func NewRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(decimalType, bsoncodec.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(decimalType, bsoncodec.ValueDecoderFunc(decodeDecimal))
	return reg
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != decimalType {
		return bsoncodec.ValueEncoderError{Name: "DecimalEncodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}
	d128, err := ToDecimal128(val.Interface().(decimal.Decimal))
	if err != nil {
		return err
	}
	return vw.WriteDecimal128(d128)
}

func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != decimalType {
		return bsoncodec.ValueDecoderError{Name: "DecimalDecodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}

	var d decimal.Decimal
	switch vr.Type() {
	case bsontype.Decimal128:
		d128, err := vr.ReadDecimal128()
		if err != nil {
			return err
		}
		d, err = FromDecimal128(d128)
		if err != nil {
			return err
		}
	case bsontype.Double:
		f, err := vr.ReadDouble()
		if err != nil {
			return err
		}
		d = decimal.NewFromFloat(f)
	case bsontype.Int32:
		i, err := vr.ReadInt32()
		if err != nil {
			return err
		}
		d = decimal.NewFromInt32(i)
	case bsontype.Int64:
		i, err := vr.ReadInt64()
		if err != nil {
			return err
		}
		d = decimal.NewFromInt(i)
	case bsontype.String:
		s, err := vr.ReadString()
		if err != nil {
			return err
		}
		d, err = decimal.NewFromString(s)
		if err != nil {
			return err
		}
	case bsontype.Null:
		if err := vr.ReadNull(); err != nil {
			return err
		}
		d = decimal.Zero
	default:
		return fmt.Errorf("cannot decode %v into decimal.Decimal", vr.Type())
	}

	val.Set(reflect.ValueOf(d))
	return nil
}

// ToDecimal128 converts an exact decimal into BSON Decimal128.
func ToDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	d128, ok := primitive.ParseDecimal128FromBigInt(d.Coefficient(), int(d.Exponent()))
	if !ok {
		return primitive.Decimal128{}, fmt.Errorf("decimal %s does not fit Decimal128", d.String())
	}
	return d128, nil
}

// FromDecimal128 converts BSON Decimal128 back into an exact decimal.
func FromDecimal128(d128 primitive.Decimal128) (decimal.Decimal, error) {
	coefficient, exponent, err := d128.BigInt()
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode Decimal128 %s: %w", d128.String(), err)
	}
	if coefficient == nil {
		coefficient = new(big.Int)
	}
	return decimal.NewFromBigInt(coefficient, int32(exponent)), nil
}
