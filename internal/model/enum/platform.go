package enum

type Platform uint8

const (
	_platform_beg Platform = iota
	PlatformPaper
	PlatformBinance
	PlatformREST
	_platform_end
)

func (p Platform) IsAvailable() bool {
	return p > _platform_beg && p < _platform_end
}

func (p Platform) String() string {
	switch p {
	case PlatformPaper:
		return "paper"
	case PlatformBinance:
		return "binance"
	case PlatformREST:
		return "rest"
	default:
		return "unknown"
	}
}

func (p Platform) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Platform) UnmarshalText(text []byte) error {
	if len(text) == 0 || string(text) == _platform_beg.String() {
		*p = _platform_beg
		return nil
	}
	for v := _platform_beg + 1; v < _platform_end; v++ {
		if v.String() == string(text) {
			*p = v
			return nil
		}
	}
	return errUnknownEnumText
}
