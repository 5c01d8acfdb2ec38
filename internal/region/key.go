package region

import "github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"

// Key identifies a quantized region, e.g. "24,-125,49,-66".
type Key string

func KeyOf(r model.Rect) Key { return Key(r.String()) }

func (k Key) String() string { return string(k) }
