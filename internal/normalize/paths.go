package normalize

import (
	"strconv"
	"strings"

	"github.com/buger/jsonparser"

	"medrelay/internal/util"
)

// Each lookup helper walks an ordered list of paths and returns the first usable value.
// The order of the lists in this package is the precedence contract.

func p(keys ...string) []string { return keys }

func firstString(data []byte, paths ...[]string) string {
	for _, path := range paths {
		v, typ, _, err := jsonparser.Get(data, path...)
		if err != nil {
			continue
		}
		switch typ {
		case jsonparser.String:
			s, err := jsonparser.ParseString(v)
			if err == nil && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		case jsonparser.Number:
			return string(v)
		}
	}
	return ""
}

func firstInt(data []byte, paths ...[]string) (int64, bool) {
	for _, path := range paths {
		v, typ, _, err := jsonparser.Get(data, path...)
		if err != nil {
			continue
		}
		switch typ {
		case jsonparser.Number:
			if n, err := jsonparser.ParseInt(v); err == nil && n > 0 {
				return n, true
			}
		case jsonparser.String:
			if n, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64); err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}

func firstBool(data []byte, paths ...[]string) (bool, bool) {
	for _, path := range paths {
		v, typ, _, err := jsonparser.Get(data, path...)
		if err != nil {
			continue
		}
		switch typ {
		case jsonparser.Boolean:
			if b, err := jsonparser.ParseBoolean(v); err == nil {
				return b, true
			}
		case jsonparser.String:
			switch strings.ToLower(strings.TrimSpace(string(v))) {
			case "true", "1":
				return true, true
			case "false", "0":
				return false, true
			}
		case jsonparser.Number:
			return string(v) != "0", true
		}
	}
	return false, false
}

func firstObject(data []byte, paths ...[]string) []byte {
	for _, path := range paths {
		v, typ, _, err := jsonparser.Get(data, path...)
		if err == nil && typ == jsonparser.Object {
			return v
		}
	}
	return nil
}

// firstPhone returns the first path whose value is a real phone, as digits.
func firstPhone(data []byte, paths ...[]string) string {
	for _, path := range paths {
		if d, ok := util.PhoneDigits(firstString(data, path)); ok {
			return d
		}
	}
	return ""
}

func isObject(body []byte) bool {
	_, typ, _, err := jsonparser.Get(body)
	return err == nil && typ == jsonparser.Object
}
