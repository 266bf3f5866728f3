package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// OCRDocument is the per-page token structure produced by an OCR engine.
type OCRDocument struct {
	Pages []OCRPage `json:"pages"`
}

// OCRPage holds the tokens recognised on one page.
type OCRPage struct {
	Tokens []OCRToken `json:"tokens"`
}

// OCRToken is one recognised word with its confidence and bounding box.
// Decoding is lenient: missing, null or malformed fields fall back to zero or "".
type OCRToken struct {
	Text    string  `json:"text"`
	Conf    float64 `json:"conf"`
	X       int     `json:"x"`
	Y       int     `json:"y"`
	W       int     `json:"w"`
	H       int     `json:"h"`
	LineNum int     `json:"line_num"`
	WordNum int     `json:"word_num"`
}

// UnmarshalJSON decodes a token, tolerating numbers encoded as strings and values of the
// wrong type.
func (t *OCRToken) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*t = OCRToken{}
		return nil
	}
	*t = OCRToken{
		Text:    lenientString(raw["text"]),
		Conf:    lenientFloat(raw["conf"]),
		X:       lenientInt(raw["x"]),
		Y:       lenientInt(raw["y"]),
		W:       lenientInt(raw["w"]),
		H:       lenientInt(raw["h"]),
		LineNum: lenientInt(raw["line_num"]),
		WordNum: lenientInt(raw["word_num"]),
	}
	return nil
}

// UnmarshalJSON decodes a page, treating a missing or malformed token list as empty.
func (p *OCRPage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Tokens json.RawMessage `json:"tokens"`
	}
	*p = OCRPage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	var tokens []OCRToken
	if err := json.Unmarshal(raw.Tokens, &tokens); err == nil {
		p.Tokens = tokens
	}
	return nil
}

// UnmarshalJSON decodes a document, treating a missing or malformed page list as empty.
func (d *OCRDocument) UnmarshalJSON(data []byte) error {
	var raw struct {
		Pages json.RawMessage `json:"pages"`
	}
	*d = OCRDocument{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	var pages []OCRPage
	if err := json.Unmarshal(raw.Pages, &pages); err == nil {
		d.Pages = pages
	}
	return nil
}

func lenientString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

func lenientFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return parsed
		}
	}
	return 0
}

func lenientInt(raw json.RawMessage) int {
	f := lenientFloat(raw)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(f)
}
