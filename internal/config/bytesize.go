package config

import "github.com/jmylchreest/feedplay/pkg/bytesize"

// ByteSize is a byte budget such as prefetch.bytes_per_url or probe.bytes.
// Config files and FEEDPLAY_ variables may write it as "512KB", "1.5MB" or
// a plain byte count.
type ByteSize int64

// UnmarshalText parses a size string. Signed values do not parse.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := bytesize.Parse(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// MarshalYAML renders the size the way it is usually configured.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	return bytesize.Format(bytesize.Size(b))
}
