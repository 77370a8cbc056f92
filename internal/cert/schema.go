package cert

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://navproof.io/schemas/certificate.schema.json"

// certificateSchema is the structural contract for the wire document.
// Decimals are strings matching the decimal pattern; exactly one of
// trade/trades must be present. Unknown top-level properties pass
// validation so additive minor versions keep decoding.
const certificateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "precision_decimals", "tolerance", "pre_state", "claimed_post_state", "claimed_nav"],
  "oneOf": [
    {"required": ["trade"]},
    {"required": ["trades"]}
  ],
  "properties": {
    "version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+$"},
    "source_type": {"type": "string"},
    "precision_decimals": {"type": "integer", "minimum": 0, "maximum": 9},
    "tolerance": {"$ref": "#/$defs/decimal"},
    "pre_state": {"$ref": "#/$defs/state"},
    "trade": {"$ref": "#/$defs/trade"},
    "trades": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/trade"}},
    "claimed_post_state": {"$ref": "#/$defs/state"},
    "claimed_nav": {"$ref": "#/$defs/decimal"},
    "lineage": {"type": "string", "minLength": 1},
    "step_index": {"type": "integer", "minimum": 0}
  },
  "$defs": {
    "decimal": {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"},
    "state": {
      "type": "object",
      "required": ["cash", "positions"],
      "properties": {
        "cash": {"$ref": "#/$defs/decimal"},
        "accrued_interest": {"$ref": "#/$defs/decimal"},
        "positions": {"type": "array", "items": {"$ref": "#/$defs/position"}}
      }
    },
    "position": {
      "type": "object",
      "required": ["asset", "quantity", "mark_price"],
      "properties": {
        "asset": {"type": "string", "minLength": 1},
        "quantity": {"type": "integer"},
        "mark_price": {"$ref": "#/$defs/decimal"}
      }
    },
    "trade": {
      "type": "object",
      "required": ["asset", "delta_quantity", "execution_price", "fee"],
      "properties": {
        "asset": {"type": "string", "minLength": 1},
        "delta_quantity": {"type": "integer"},
        "execution_price": {"$ref": "#/$defs/decimal"},
        "fee": {"$ref": "#/$defs/decimal"}
      }
    }
  }
}`

// compiledSchema is built once at init; a malformed embedded schema is a
// programmer error and fails fast like a bad regexp literal.
var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(certificateSchema)); err != nil {
		panic("cert: schema resource: " + err.Error())
	}
	return c.MustCompile(schemaURL)
}
