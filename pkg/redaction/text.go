// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package redaction

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// PreviewRunes 日志中保留的预览长度上限；实际长度不超过原文的 1/4，短文本不留预览
const PreviewRunes = 24

// Text 不可逆的文本摘要：短预览 + 加盐 hash；日志中只允许出现这种形态的用户/模型文本
type Text struct {
	Preview string
	Hash    string
	Runes   int
}

// NewText 生成文本摘要
func NewText(s, salt string) Text {
	return Text{
		Preview: preview(s, PreviewRunes),
		Hash:    Fingerprint(s, salt),
		Runes:   utf8.RuneCountInString(s),
	}
}

// String 形如 "What is the capit…#3fa2c1d09e8b"
func (t Text) String() string {
	return t.Preview + "#" + t.Hash[:12]
}

// LogValue 实现 slog.LogValuer
func (t Text) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("preview", t.Preview),
		slog.String("sha256", t.Hash),
		slog.Int("runes", t.Runes),
	)
}

// Fingerprint 计算加盐 SHA256（hex）
func Fingerprint(value, salt string) string {
	h := sha256.New()
	h.Write([]byte(value))
	if salt != "" {
		h.Write([]byte(salt))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func preview(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if q := len(r) / 4; q < n {
		n = q
	}
	if n <= 0 {
		return "…"
	}
	return string(r[:n]) + "…"
}
