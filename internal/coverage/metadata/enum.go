package metadata

import (
	"iter"

	"github.com/coral-mesh/jitcov/pkg/clrhost"
)

// batchSize is the number of tokens requested per enumeration call.
const batchSize = 50

// enumerate turns a paged metadata enumeration into a sequence. Every range
// over the returned sequence starts a fresh cursor and closes it when done.
func enumerate(
	fill func(e *clrhost.Enum, buf []clrhost.Token) (int, error),
	closeEnum func(e clrhost.Enum),
) iter.Seq2[clrhost.Token, error] {
	return func(yield func(clrhost.Token, error) bool) {
		var e clrhost.Enum
		defer func() { closeEnum(e) }()

		buf := make([]clrhost.Token, batchSize)
		for {
			n, err := fill(&e, buf)
			if err != nil {
				yield(0, err)
				return
			}
			if n <= 0 {
				return
			}
			if n > len(buf) {
				n = len(buf)
			}
			for _, tok := range buf[:n] {
				if !yield(tok, nil) {
					return
				}
			}
		}
	}
}

// TypeDefs yields every type definition token of the module behind imp.
// An enumeration failure is yielded once as the final element.
func TypeDefs(imp clrhost.MetadataImport) iter.Seq2[clrhost.TypeDef, error] {
	return enumerate(imp.EnumTypeDefs, imp.CloseEnum)
}

// Methods yields every method definition token of td.
func Methods(imp clrhost.MetadataImport, td clrhost.TypeDef) iter.Seq2[clrhost.MethodDef, error] {
	return enumerate(func(e *clrhost.Enum, buf []clrhost.Token) (int, error) {
		return imp.EnumMethods(e, td, buf)
	}, imp.CloseEnum)
}
