package metrics

import (
	"strings"
)

// Tag is a single statsd tag. A bare tag carries no value and renders as just its key.
type Tag struct {
	Key   string
	Value string
	bare  bool
}

// Tags is an ordered list of tags. Order is preserved on the wire.
type Tags []Tag

// KV creates a tag rendered as key:value.
func KV(key string, value string) Tag {
	return Tag{Key: key, Value: value}
}

// Bare creates a tag rendered as just its key.
func Bare(key string) Tag {
	return Tag{Key: key, bare: true}
}

// IsBare reports whether the tag carries no value.
func (t Tag) IsBare() bool {
	return t.bare
}

// Set adds a tag to the list. If the key is already present, a copy of the list is returned with
// the value replaced and the tag kept at its original position; the receiver is never modified.
// Otherwise the tag is appended, with the same aliasing rules as append.
func (t Tags) Set(tag Tag) Tags {
	for idx := range t {
		if t[idx].Key == tag.Key {
			replaced := make(Tags, len(t))
			copy(replaced, t)
			replaced[idx] = tag

			return replaced
		}
	}

	return append(t, tag)
}

// FormatTags serializes tags into the DogStatsD suffix |#key:value,key. An empty list yields an
// empty string, without the delimiter.
func FormatTags(tags Tags) string {
	if len(tags) == 0 {
		return ""
	}

	components := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag.bare {
			components = append(components, tag.Key)
		} else {
			components = append(components, tag.Key+":"+tag.Value)
		}
	}

	return "|#" + strings.Join(components, ",")
}
