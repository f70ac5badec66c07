package credits

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MaskDefinition strips key material from a marshaled credit definition
// before it leaves the admin plane. The caller learns whether a key is on
// file, never its value.
func MaskDefinition(raw []byte) []byte {
	out := raw
	if gjson.GetBytes(out, "api_key").Exists() {
		out, _ = sjson.DeleteBytes(out, "api_key")
		out, _ = sjson.SetBytes(out, "api_key_present", true)
	}
	if gjson.GetBytes(out, "api_key_new").Exists() {
		out, _ = sjson.DeleteBytes(out, "api_key_new")
		out, _ = sjson.SetBytes(out, "api_key_new_present", true)
	}
	return out
}

// MaskBalance strips the per-user upstream key from a marshaled balance
// record.
func MaskBalance(raw []byte) []byte {
	out := raw
	if gjson.GetBytes(out, "user_api_key").Exists() {
		out, _ = sjson.DeleteBytes(out, "user_api_key")
		out, _ = sjson.SetBytes(out, "user_api_key_present", true)
	}
	return out
}
