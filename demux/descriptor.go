package demux

import "fmt"

// Descriptor tags parsed into typed variants. Unknown tags are kept raw.
const (
	DescriptorTagCA               = 0x09
	DescriptorTagISO639Language   = 0x0A
	DescriptorTagNetworkName      = 0x40
	DescriptorTagServiceList      = 0x41
	DescriptorTagService          = 0x48
	DescriptorTagShortEvent       = 0x4D
	DescriptorTagComponent        = 0x50
	DescriptorTagStreamIdentifier = 0x52
	DescriptorTagContent          = 0x54
	DescriptorTagParentalRating   = 0x55
)

// Descriptor is one tag-length-value descriptor from a PSI section. Raw
// always holds the payload bytes; when the tag is known, the matching
// variant pointer is populated as well.
type Descriptor struct {
	Tag uint8
	Raw []byte

	CA               *CADescriptor
	ISO639Language   *ISO639LanguageDescriptor
	NetworkName      *NetworkNameDescriptor
	ServiceList      *ServiceListDescriptor
	Service          *ServiceDescriptor
	ShortEvent       *ShortEventDescriptor
	Component        *ComponentDescriptor
	StreamIdentifier *StreamIdentifierDescriptor
	Content          *ContentDescriptor
	ParentalRating   *ParentalRatingDescriptor
}

// Parsed reports whether the descriptor's tag was recognized and decoded
// into a typed variant.
func (d *Descriptor) Parsed() bool {
	switch d.Tag {
	case DescriptorTagCA, DescriptorTagISO639Language, DescriptorTagNetworkName,
		DescriptorTagServiceList, DescriptorTagService, DescriptorTagShortEvent,
		DescriptorTagComponent, DescriptorTagStreamIdentifier,
		DescriptorTagContent, DescriptorTagParentalRating:
		return true
	}
	return false
}

// CADescriptor identifies a conditional access system and its EMM/ECM PID.
type CADescriptor struct {
	SystemID uint16
	PID      uint16
	Private  []byte
}

// ISO639LanguageDescriptor lists language codes with audio types.
type ISO639LanguageDescriptor struct {
	Entries []ISO639Entry
}

// ISO639Entry is one language of an ISO 639 language descriptor.
type ISO639Entry struct {
	Language  string // 3-letter ISO 639-2 code
	AudioType uint8
}

// NetworkNameDescriptor names the delivery network.
type NetworkNameDescriptor struct {
	Name string
}

// ServiceListDescriptor lists services with their types.
type ServiceListDescriptor struct {
	Services []ServiceListEntry
}

// ServiceListEntry is one service of a service list descriptor.
type ServiceListEntry struct {
	ServiceID uint16
	Type      uint8
}

// ServiceDescriptor names a service and its provider.
type ServiceDescriptor struct {
	Type     uint8
	Provider string
	Name     string
}

// ShortEventDescriptor carries an event name and short text.
type ShortEventDescriptor struct {
	Language string
	Name     string
	Text     string
}

// ComponentDescriptor describes one stream component of an event.
type ComponentDescriptor struct {
	StreamContent uint8
	Type          uint8
	Tag           uint8
	Language      string
	Text          string
}

// StreamIdentifierDescriptor tags a component for cross-referencing.
type StreamIdentifierDescriptor struct {
	ComponentTag uint8
}

// ContentDescriptor classifies an event's content genre.
type ContentDescriptor struct {
	Entries []ContentEntry
}

// ContentEntry is one nibble-pair classification of a content descriptor.
type ContentEntry struct {
	ContentNibbleLevel1 uint8
	ContentNibbleLevel2 uint8
	UserByte            uint8
}

// ParentalRatingDescriptor carries per-country minimum ages.
type ParentalRatingDescriptor struct {
	Entries []ParentalRatingEntry
}

// ParentalRatingEntry is one country rating of a parental rating descriptor.
type ParentalRatingEntry struct {
	CountryCode string
	Rating      uint8
}

// MinimumAge converts the rating field to a minimum age in years; zero
// means undefined or country-specific.
func (e ParentalRatingEntry) MinimumAge() int {
	if e.Rating == 0 || e.Rating > 0x0F {
		return 0
	}
	return int(e.Rating) + 3
}

// parseDescriptors consumes one length-delimited descriptor loop. The
// configured descriptor cap bounds the loop; exceeding it aborts the
// owning section with ErrTableFull.
func (d *Demuxer) parseDescriptors(b []byte) ([]*Descriptor, error) {
	var descs []*Descriptor
	offset := 0
	for offset < len(b) {
		if offset+2 > len(b) {
			return nil, fmt.Errorf("descriptor header truncated: %w", ErrInvalidData)
		}
		tag := b[offset]
		length := int(b[offset+1])
		offset += 2
		if offset+length > len(b) {
			return nil, fmt.Errorf("descriptor 0x%02X length %d exceeds loop: %w", tag, length, ErrInvalidData)
		}
		if len(descs) >= d.caps.MaxDescriptors {
			return nil, fmt.Errorf("descriptor loop at %d entries: %w", d.caps.MaxDescriptors, ErrTableFull)
		}

		desc := &Descriptor{Tag: tag, Raw: append([]byte(nil), b[offset:offset+length]...)}
		if err := desc.parse(); err != nil {
			return nil, err
		}
		descs = append(descs, desc)
		offset += length
	}
	return descs, nil
}

func (d *Descriptor) parse() error {
	b := d.Raw
	switch d.Tag {
	case DescriptorTagCA:
		if len(b) < 4 {
			return fmt.Errorf("CA descriptor %d bytes: %w", len(b), ErrInvalidData)
		}
		d.CA = &CADescriptor{
			SystemID: uint16(b[0])<<8 | uint16(b[1]),
			PID:      uint16(b[2]&0x1F)<<8 | uint16(b[3]),
			Private:  b[4:],
		}

	case DescriptorTagISO639Language:
		v := &ISO639LanguageDescriptor{}
		for i := 0; i+4 <= len(b); i += 4 {
			v.Entries = append(v.Entries, ISO639Entry{
				Language:  string(b[i : i+3]),
				AudioType: b[i+3],
			})
		}
		d.ISO639Language = v

	case DescriptorTagNetworkName:
		d.NetworkName = &NetworkNameDescriptor{Name: string(b)}

	case DescriptorTagServiceList:
		v := &ServiceListDescriptor{}
		for i := 0; i+3 <= len(b); i += 3 {
			v.Services = append(v.Services, ServiceListEntry{
				ServiceID: uint16(b[i])<<8 | uint16(b[i+1]),
				Type:      b[i+2],
			})
		}
		d.ServiceList = v

	case DescriptorTagService:
		if len(b) < 2 {
			return fmt.Errorf("service descriptor %d bytes: %w", len(b), ErrInvalidData)
		}
		v := &ServiceDescriptor{Type: b[0]}
		offset := 1
		provLen := int(b[offset])
		offset++
		if offset+provLen+1 > len(b) {
			return fmt.Errorf("service descriptor provider name truncated: %w", ErrInvalidData)
		}
		v.Provider = string(b[offset : offset+provLen])
		offset += provLen
		nameLen := int(b[offset])
		offset++
		if offset+nameLen > len(b) {
			return fmt.Errorf("service descriptor name truncated: %w", ErrInvalidData)
		}
		v.Name = string(b[offset : offset+nameLen])
		d.Service = v

	case DescriptorTagShortEvent:
		if len(b) < 5 {
			return fmt.Errorf("short event descriptor %d bytes: %w", len(b), ErrInvalidData)
		}
		v := &ShortEventDescriptor{Language: string(b[0:3])}
		offset := 3
		nameLen := int(b[offset])
		offset++
		if offset+nameLen+1 > len(b) {
			return fmt.Errorf("short event descriptor name truncated: %w", ErrInvalidData)
		}
		v.Name = string(b[offset : offset+nameLen])
		offset += nameLen
		textLen := int(b[offset])
		offset++
		if offset+textLen > len(b) {
			return fmt.Errorf("short event descriptor text truncated: %w", ErrInvalidData)
		}
		v.Text = string(b[offset : offset+textLen])
		d.ShortEvent = v

	case DescriptorTagComponent:
		if len(b) < 6 {
			return fmt.Errorf("component descriptor %d bytes: %w", len(b), ErrInvalidData)
		}
		d.Component = &ComponentDescriptor{
			StreamContent: b[0] & 0x0F,
			Type:          b[1],
			Tag:           b[2],
			Language:      string(b[3:6]),
			Text:          string(b[6:]),
		}

	case DescriptorTagStreamIdentifier:
		if len(b) < 1 {
			return fmt.Errorf("stream identifier descriptor empty: %w", ErrInvalidData)
		}
		d.StreamIdentifier = &StreamIdentifierDescriptor{ComponentTag: b[0]}

	case DescriptorTagContent:
		v := &ContentDescriptor{}
		for i := 0; i+2 <= len(b); i += 2 {
			v.Entries = append(v.Entries, ContentEntry{
				ContentNibbleLevel1: b[i] >> 4,
				ContentNibbleLevel2: b[i] & 0x0F,
				UserByte:            b[i+1],
			})
		}
		d.Content = v

	case DescriptorTagParentalRating:
		v := &ParentalRatingDescriptor{}
		for i := 0; i+4 <= len(b); i += 4 {
			v.Entries = append(v.Entries, ParentalRatingEntry{
				CountryCode: string(b[i : i+3]),
				Rating:      b[i+3],
			})
		}
		d.ParentalRating = v
	}
	return nil
}
