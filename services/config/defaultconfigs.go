package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board name (same value placed in ctx under CtxBoardKey)
// Val: raw JSON bytes for that board
// -----------------------------------------------------------------------------

const cfgGT911Demo = `{
  "diagram": {
    "chips": [
      {"id": "touch1", "type": "gt911", "bus": "i2c0"}
    ]
  },
  "touchpoll": {
    "interval_ms": 500
  }
}`

const cfgDualPanel = `{
  "diagram": {
    "chips": [
      {"id": "left", "type": "gt911", "bus": "i2c0"},
      {"id": "right", "type": "gt911", "bus": "i2c1"}
    ]
  },
  "touchpoll": {
    "interval_ms": 250
  }
}`

var embeddedConfigs = map[string][]byte{
	"gt911-demo": []byte(cfgGT911Demo),
	"dual-panel": []byte(cfgDualPanel),
}
