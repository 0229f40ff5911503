package configresolver

import (
	"sort"
	"strings"

	"github.com/ruteri/runtime-init/interfaces"
)

const maskedValue = "********"

// Masker hides secret parameter values in text bound for logs.
type Masker struct {
	replacer *strings.Replacer
}

// NewMasker masks every secret value of params. A nil params masks nothing.
func NewMasker(params *interfaces.Parameters) *Masker {
	if params == nil {
		return &Masker{}
	}

	secrets := params.SecretValues()
	// Longer values first so a secret containing another is masked whole.
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })

	var pairs []string
	for _, s := range secrets {
		if s != "" {
			pairs = append(pairs, s, maskedValue)
		}
	}
	if len(pairs) == 0 {
		return &Masker{}
	}
	return &Masker{replacer: strings.NewReplacer(pairs...)}
}

// Mask returns text with every secret value replaced.
func (m *Masker) Mask(text string) string {
	if m == nil || m.replacer == nil {
		return text
	}
	return m.replacer.Replace(text)
}
