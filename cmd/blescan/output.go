package main

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/srg/blescan/internal/device"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// palette colors command output; every color is disabled off a terminal.
type palette struct {
	header *color.Color
	good   *color.Color
	fair   *color.Color
	poor   *color.Color
	dim    *color.Color
}

func newPalette(w io.Writer) *palette {
	p := &palette{
		header: color.New(color.Bold),
		good:   color.New(color.FgGreen),
		fair:   color.New(color.FgYellow),
		poor:   color.New(color.FgRed),
		dim:    color.New(color.Faint),
	}
	if !isTerminal(w) {
		for _, c := range []*color.Color{p.header, p.good, p.fair, p.poor, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

func (p *palette) rssi(v int) *color.Color {
	switch {
	case v >= -60:
		return p.good
	case v >= -80:
		return p.fair
	default:
		return p.poor
	}
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

type deviceView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
	Payload string `json:"payload,omitempty"`
}

func newDeviceView(rec device.DeviceRecord) deviceView {
	return deviceView{
		ID:      rec.ID,
		Name:    rec.DisplayName(),
		RSSI:    rec.RSSI,
		Payload: hex.EncodeToString(rec.Payload),
	}
}

type characteristicView struct {
	Service     string   `json:"service"`
	ServiceName string   `json:"service_name,omitempty"`
	UUID        string   `json:"uuid"`
	Name        string   `json:"name,omitempty"`
	Properties  []string `json:"properties"`
	Value       string   `json:"value,omitempty"`
}

func newCharacteristicView(rec device.CharacteristicRecord) characteristicView {
	v := characteristicView{
		Service:     rec.ServiceUUID,
		ServiceName: lookupServiceName(rec.ServiceUUID),
		UUID:        rec.UUID,
		Name:        rec.KnownName(),
		Properties:  rec.Properties.Names(),
	}
	if rec.HasValue() {
		v.Value = rec.ValueString()
	}
	return v
}

// hexString renders b as space-separated uppercase hex.
func hexString(b []byte) string {
	parts := make([]string, len(b))
	for i, x := range b {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{x}))
	}
	return strings.Join(parts, " ")
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
