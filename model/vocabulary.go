// Package model implements the multimodal generation pipeline: the
// tokenizer, the vision encoder and cross-modal projector, the text
// decoder, and the sequence builder that fuses token embeddings with
// projected visual embeddings.
package model

import (
	"slices"
	"sync"
)

const (
	TOKEN_TYPE_NORMAL  int32 = 1
	TOKEN_TYPE_CONTROL int32 = 3
)

type Special int32

const (
	SpecialEOS Special = iota
	SpecialImage
	SpecialVisionStart
	SpecialVisionEnd
)

// Vocabulary maps between token strings and their integer ids, and tracks
// which ids are control tokens.
type Vocabulary struct {
	Values []string
	Types  []int32
	Merges []string

	EOS         []int32
	Image       int32
	VisionStart int32
	VisionEnd   int32

	specialOnce sync.Once
	special     []string

	valuesOnce sync.Once
	values     map[string]int32

	mergeOnce sync.Once
	merge     map[string]int32
}

func (v *Vocabulary) Is(id int32, special Special) bool {
	switch special {
	case SpecialEOS:
		return slices.Contains(v.EOS, id)
	case SpecialImage:
		return id == v.Image
	case SpecialVisionStart:
		return id == v.VisionStart
	case SpecialVisionEnd:
		return id == v.VisionEnd
	default:
		return false
	}
}

// IsControl reports whether id is a control token, which must never be
// rendered as text.
func (v *Vocabulary) IsControl(id int32) bool {
	return int(id) < len(v.Types) && v.Types[id] == TOKEN_TYPE_CONTROL
}

func (v *Vocabulary) Encode(s string) int32 {
	v.valuesOnce.Do(func() {
		v.values = make(map[string]int32, len(v.Values))
		for i, value := range v.Values {
			v.values[value] = int32(i)
		}
	})

	if id, ok := v.values[s]; ok {
		return id
	}

	return -1
}

func (v *Vocabulary) Decode(id int32) string {
	return v.Values[id]
}

func (v *Vocabulary) SpecialVocabulary() []string {
	v.specialOnce.Do(func() {
		for i := range v.Values {
			if v.Types[i] == TOKEN_TYPE_CONTROL {
				v.special = append(v.special, v.Values[i])
			}
		}
	})

	return v.special
}

func (v *Vocabulary) Merge(left, right string) int {
	v.mergeOnce.Do(func() {
		v.merge = make(map[string]int32, len(v.Merges))
		for i, merge := range v.Merges {
			v.merge[merge] = int32(i)
		}
	})

	if id, ok := v.merge[left+" "+right]; ok {
		return int(id)
	}

	return -1
}
