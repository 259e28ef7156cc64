package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PiaoShihao/photocritic/fs"
)

type tokenizerJSON struct {
	AddedTokens []struct {
		ID      int32  `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
	Model struct {
		Type   string           `json:"type"`
		Vocab  map[string]int32 `json:"vocab"`
		Merges json.RawMessage  `json:"merges"`
	} `json:"model"`
}

// LoadVocabulary reads a tokenizer.json from the model directory and
// builds the vocabulary, wiring the special token ids the configuration
// declares.
func LoadVocabulary(dir string, c *fs.ModelConfig) (*Vocabulary, error) {
	p := filepath.Join(dir, "tokenizer.json")
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}

	var tj tokenizerJSON
	if err := json.Unmarshal(b, &tj); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}

	if tj.Model.Type != "" && tj.Model.Type != "BPE" {
		return nil, fmt.Errorf("%s: unsupported tokenizer type %q", p, tj.Model.Type)
	}

	size := int32(len(tj.Model.Vocab))
	for _, t := range tj.AddedTokens {
		if t.ID >= size {
			size = t.ID + 1
		}
	}
	for _, id := range tj.Model.Vocab {
		if id >= size {
			size = id + 1
		}
	}

	v := &Vocabulary{
		Values: make([]string, size),
		Types:  make([]int32, size),
		Merges: parseMerges(tj.Model.Merges),
	}

	for s, id := range tj.Model.Vocab {
		v.Values[id] = s
		v.Types[id] = TOKEN_TYPE_NORMAL
	}

	for _, t := range tj.AddedTokens {
		v.Values[t.ID] = t.Content
		if t.Special {
			v.Types[t.ID] = TOKEN_TYPE_CONTROL
		} else {
			v.Types[t.ID] = TOKEN_TYPE_NORMAL
		}
	}

	v.Image = c.ImageTokenID
	v.VisionStart = c.VisionStartTokenID
	v.VisionEnd = c.VisionEndTokenID
	v.EOS = []int32{c.EOSTokenID}
	if id := v.Encode("<|endoftext|>"); id >= 0 && id != c.EOSTokenID {
		v.EOS = append(v.EOS, id)
	}

	for _, id := range []int32{v.Image, v.VisionStart, v.VisionEnd} {
		if int(id) >= len(v.Values) || v.Values[id] == "" {
			return nil, fmt.Errorf("%s: special token id %d not present in vocabulary", p, id)
		}
	}

	return v, nil
}

// parseMerges accepts both merge encodings found in tokenizer.json files:
// ["a b", ...] and [["a", "b"], ...].
func parseMerges(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var flat []string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat
	}

	var nested [][]string
	if err := json.Unmarshal(raw, &nested); err == nil {
		merges := make([]string, len(nested))
		for i, m := range nested {
			merges[i] = strings.Join(m, " ")
		}
		return merges
	}

	return nil
}
