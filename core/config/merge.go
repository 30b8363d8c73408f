package config

import "reflect"

// Overlay copies every non-zero leaf of src onto dst. Nested structs are
// walked field by field, so a partial Config only replaces what it sets.
// Maps are merged key by key and non-empty slices replace dst's.
func Overlay(dst, src *Config) {
	if dst == nil || src == nil {
		return
	}
	overlay(reflect.ValueOf(dst).Elem(), reflect.ValueOf(src).Elem())
}

func overlay(dst, src reflect.Value) {
	switch dst.Kind() {
	case reflect.Struct:
		for i := range dst.NumField() {
			if dst.Type().Field(i).IsExported() {
				overlay(dst.Field(i), src.Field(i))
			}
		}
	case reflect.Map:
		if src.Len() == 0 {
			return
		}
		if dst.IsNil() {
			dst.Set(reflect.MakeMapWithSize(dst.Type(), src.Len()))
		}
		iter := src.MapRange()
		for iter.Next() {
			dst.SetMapIndex(iter.Key(), iter.Value())
		}
	case reflect.Slice:
		if src.Len() > 0 {
			dst.Set(src)
		}
	default:
		if !src.IsZero() {
			dst.Set(src)
		}
	}
}
