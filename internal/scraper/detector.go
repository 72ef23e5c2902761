package scraper

import (
	"bytes"
	"strings"
)

// DefaultBlockIndicators are phrases that usually mean a bot wall instead of results.
var DefaultBlockIndicators = []string{
	"captcha",
	"blocked",
	"access denied",
	"please enable javascript",
	"cloudflare",
	"verify you are human",
}

// BlockDetector flags pages that look like bot walls. Findings only raise log
// severity; they never change control flow.
type BlockDetector struct {
	indicators [][]byte
}

// NewBlockDetector lowercases and keeps the non-empty indicators.
func NewBlockDetector(indicators []string) *BlockDetector {
	lower := make([][]byte, 0, len(indicators))
	for _, kw := range indicators {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower = append(lower, bytes.ToLower([]byte(kw)))
	}
	return &BlockDetector{indicators: lower}
}

// Detect returns the indicators present in body.
func (d *BlockDetector) Detect(body []byte) []string {
	if d == nil || len(body) == 0 {
		return nil
	}
	lowerBody := bytes.ToLower(body)
	var found []string
	for _, kw := range d.indicators {
		if bytes.Contains(lowerBody, kw) {
			found = append(found, string(kw))
		}
	}
	return found
}
