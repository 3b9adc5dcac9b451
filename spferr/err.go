package spferr

import "strconv"

// Kind classifies engine errors by how the top-level evaluation has to
// recover from them: syntax, validation, limit and loop errors end in
// "permerror", DNS errors in "temperror".
type Kind int8

const (
	KindUnknown Kind = iota
	KindSyntax
	KindValidation
	KindDNS
	KindLimit
	KindLoop
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindValidation:
		return "validation"
	case KindDNS:
		return "dns"
	case KindLimit:
		return "limit"
	case KindLoop:
		return "loop"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = 0
		return nil
	}
	switch s := string(text); s {
	case "unknown":
		*k = KindUnknown
		return nil
	case "syntax":
		*k = KindSyntax
		return nil
	case "validation":
		*k = KindValidation
		return nil
	case "dns":
		*k = KindDNS
		return nil
	case "limit":
		*k = KindLimit
		return nil
	case "loop":
		*k = KindLoop
		return nil
	default:
		i, err := strconv.Atoi(s)
		*k = Kind(i)
		return err
	}
}
