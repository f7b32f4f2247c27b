package feed

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/calebmills/signalwatch/internal/bar"
	"github.com/calebmills/signalwatch/internal/model"
)

// Decoder turns a raw inbound frame into a typed Frame. Implementations
// are injected into the adapter, so tolerance to malformed upstream data
// is a configuration choice, not a patch on the transport. A decode error
// means "count and skip", never "tear down the connection".
type Decoder interface {
	Decode(data []byte) (Frame, error)
}

// JSONDecoder decodes the upstream JSON frame contract:
//
//	{"type": "tick",   "symbol": "...", "ts": <unix ms>, "price": p, "volume": v}
//	{"type": "bar",    "symbol": "...", "ts": <unix ms>, "open": o, "high": h, "low": l, "close": c, "volume": v}
//	{"type": "status", "connected": true, "message": "..."}
//
// Frames without a type field are inferred: presence of open/high/low means
// bar, otherwise tick with "close" accepted as the price field. Field
// extraction uses gjson so a partial frame degrades to a typed error
// instead of an unmarshal panic on shape changes.
type JSONDecoder struct {
	// Interval stamped onto decoded bar frames that omit their own.
	Interval time.Duration
}

// Decode implements Decoder.
func (d *JSONDecoder) Decode(data []byte) (Frame, error) {
	if !gjson.ValidBytes(data) {
		return Frame{}, fmt.Errorf("%w: invalid json", ErrMalformedFrame)
	}

	root := gjson.ParseBytes(data)
	kind := root.Get("type").String()
	if kind == "" {
		if root.Get("open").Exists() && root.Get("high").Exists() && root.Get("low").Exists() {
			kind = "bar"
		} else {
			kind = "tick"
		}
	}

	switch kind {
	case "tick":
		return d.decodeTick(root)
	case "bar":
		return d.decodeBar(root)
	case "status":
		return Frame{
			Kind: FrameStatus,
			Status: model.FeedStatus{
				Connected: root.Get("connected").Bool(),
				Message:   root.Get("message").String(),
				Time:      time.Now().UTC(),
			},
		}, nil
	default:
		return Frame{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, kind)
	}
}

func (d *JSONDecoder) decodeTick(root gjson.Result) (Frame, error) {
	symbol := root.Get("symbol").String()
	if symbol == "" {
		return Frame{}, fmt.Errorf("%w: tick missing symbol", ErrMalformedFrame)
	}

	price := root.Get("price")
	if !price.Exists() {
		// Minimal upstream contract allows "close" as the last price.
		price = root.Get("close")
	}
	if !price.Exists() || price.Float() <= 0 {
		return Frame{}, fmt.Errorf("%w: tick missing price", ErrMalformedFrame)
	}

	ts := root.Get("ts")
	if !ts.Exists() {
		return Frame{}, fmt.Errorf("%w: tick missing ts", ErrMalformedFrame)
	}

	return Frame{
		Kind: FrameTick,
		Tick: model.Tick{
			Symbol: symbol,
			Price:  price.Float(),
			Volume: root.Get("volume").Float(),
			Time:   time.UnixMilli(ts.Int()).UTC(),
		},
	}, nil
}

func (d *JSONDecoder) decodeBar(root gjson.Result) (Frame, error) {
	symbol := root.Get("symbol").String()
	if symbol == "" {
		return Frame{}, fmt.Errorf("%w: bar missing symbol", ErrMalformedFrame)
	}

	ts := root.Get("ts")
	if !ts.Exists() {
		return Frame{}, fmt.Errorf("%w: bar missing ts", ErrMalformedFrame)
	}

	open := root.Get("open").Float()
	high := root.Get("high").Float()
	low := root.Get("low").Float()
	closePx := root.Get("close").Float()
	if open <= 0 || high <= 0 || low <= 0 || closePx <= 0 {
		return Frame{}, fmt.Errorf("%w: bar has non-positive prices", ErrMalformedFrame)
	}

	start := bar.Align(time.UnixMilli(ts.Int()).UTC(), d.Interval)

	return Frame{
		Kind: FrameBar,
		Bar: model.Bar{
			Symbol:   symbol,
			Start:    start,
			Interval: d.Interval,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePx,
			Volume:   root.Get("volume").Float(),
		},
	}, nil
}
