// Package money は金額を「分」単位の整数で扱う型を提供します。
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Amount は人民元の金額を分（0.01元）単位で保持します。
// JSON では元単位の数値（例: 12.5）として表現されます。
type Amount int64

// FromYuan は元単位の浮動小数点数を Amount に変換します（四捨五入）。
func FromYuan(v float64) Amount {
	return Amount(math.Round(v * 100))
}

// Yuan は元単位の値を返します。
func (a Amount) Yuan() float64 {
	return float64(a) / 100
}

// Mul は数量を掛けた金額を返します。
func (a Amount) Mul(n int) Amount {
	return a * Amount(n)
}

// String は "12.50" 形式の文字列を返します。
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(a.Yuan(), 'f', -1, 64)), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		// "12.50" のような文字列表現も受け付ける
		var s string
		if strErr := json.Unmarshal(data, &s); strErr != nil {
			return fmt.Errorf("invalid amount %s", data)
		}
		parsed, parseErr := strconv.ParseFloat(s, 64)
		if parseErr != nil {
			return fmt.Errorf("invalid amount %q", s)
		}
		v = parsed
	}
	*a = FromYuan(v)
	return nil
}

// MarshalYAML / UnmarshalYAML はシードファイルでも元単位で書けるようにします。
func (a Amount) MarshalYAML() (any, error) {
	return a.Yuan(), nil
}

func (a *Amount) UnmarshalYAML(unmarshal func(any) error) error {
	var v float64
	if err := unmarshal(&v); err != nil {
		return err
	}
	*a = FromYuan(v)
	return nil
}
