package service

import (
	"encoding/json"
	"strconv"
	"strings"
)

// lookup follows a dotted path through nested JSON objects
func lookup(m map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// firstString returns the first non-empty string (or number) found at paths
func firstString(m map[string]interface{}, paths ...string) string {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case json.Number:
			return t.String()
		}
	}
	return ""
}

// firstBool returns the first boolean found at paths
func firstBool(m map[string]interface{}, paths ...string) (bool, bool) {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t, true
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b, true
			}
		}
	}
	return false, false
}

// firstInt returns the first integer found at paths; numeric strings are accepted
func firstInt(m map[string]interface{}, paths ...string) (int64, bool) {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		if n, ok := toInt(v); ok {
			return n, true
		}
	}
	return 0, false
}

// firstObject returns the first JSON object found at paths
func firstObject(m map[string]interface{}, paths ...string) map[string]interface{} {
	for _, p := range paths {
		if v, ok := lookup(m, p); ok {
			if obj, ok := v.(map[string]interface{}); ok {
				return obj
			}
		}
	}
	return nil
}

func toInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(t), true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n, true
		}
	case map[string]interface{}:
		// protobuf-style longs: {"low": n, "high": 0, "unsigned": true}
		if low, ok := t["low"]; ok {
			lo, okLo := toInt(low)
			hi, _ := toInt(t["high"])
			if okLo {
				return hi<<32 | (lo & 0xffffffff), true
			}
		}
	}
	return 0, false
}
