package demux

import (
	"testing"

	"github.com/zsiec/tsdemux/mpegts"
)

// feedSection packetizes one complete section onto pid and feeds the
// packets to d, numbering continuity counters from cc.
func feedSection(t *testing.T, d *Demuxer, pid uint16, cc uint8, section []byte) {
	t.Helper()
	for _, pkt := range mpegts.PacketizeSection(pid, cc, section) {
		if err := d.AddPacket(pkt); err != nil {
			t.Fatalf("feeding section on PID 0x%04X: %v", pid, err)
		}
	}
}

// patBody encodes PAT program entries.
func patBody(programs ...PATProgram) []byte {
	body := make([]byte, 0, len(programs)*4)
	for _, p := range programs {
		body = append(body,
			byte(p.ProgramNumber>>8), byte(p.ProgramNumber),
			0xE0|byte(p.PID>>8)&0x1F, byte(p.PID),
		)
	}
	return body
}

// patSection builds one complete single-section PAT.
func patSection(tsID uint16, version uint8, programs ...PATProgram) []byte {
	return mpegts.BuildSection(TableIDPAT, tsID, version, 0, 0, patBody(programs...))
}

type esEntry struct {
	typ   StreamType
	pid   uint16
	descs []byte
}

// pmtBody encodes a PMT body: PCR PID, program descriptors, ES entries.
func pmtBody(pcrPID uint16, progDescs []byte, streams ...esEntry) []byte {
	body := []byte{
		0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID),
		0xF0 | byte(len(progDescs)>>8)&0x0F, byte(len(progDescs)),
	}
	body = append(body, progDescs...)
	for _, s := range streams {
		body = append(body,
			byte(s.typ),
			0xE0|byte(s.pid>>8)&0x1F, byte(s.pid),
			0xF0|byte(len(s.descs)>>8)&0x0F, byte(len(s.descs)),
		)
		body = append(body, s.descs...)
	}
	return body
}

// pmtSection builds one complete single-section PMT.
func pmtSection(programNum uint16, version uint8, pcrPID uint16, streams ...esEntry) []byte {
	return mpegts.BuildSection(TableIDPMT, programNum, version, 0, 0, pmtBody(pcrPID, nil, streams...))
}

// descriptor encodes one raw descriptor.
func descriptor(tag uint8, payload ...byte) []byte {
	return append([]byte{tag, byte(len(payload))}, payload...)
}

// serviceDescriptor encodes a DVB service descriptor.
func serviceDescriptor(serviceType uint8, provider, name string) []byte {
	payload := []byte{serviceType, byte(len(provider))}
	payload = append(payload, provider...)
	payload = append(payload, byte(len(name)))
	payload = append(payload, name...)
	return descriptor(DescriptorTagService, payload...)
}

type sdtEntry struct {
	serviceID uint16
	running   RunningStatus
	descs     []byte
}

// sdtBody encodes an SDT body with the given service entries.
func sdtBody(originalNetworkID uint16, services ...sdtEntry) []byte {
	body := []byte{byte(originalNetworkID >> 8), byte(originalNetworkID), 0xFF}
	for _, s := range services {
		body = append(body,
			byte(s.serviceID>>8), byte(s.serviceID),
			0xFC|0x01, // EIT present/following
			byte(s.running)<<5|byte(len(s.descs)>>8)&0x0F, byte(len(s.descs)),
		)
		body = append(body, s.descs...)
	}
	return body
}

// mjd58484 is 2019-01-01 as a Modified Julian Date.
const mjd58484 = 58484

// eitEventEntry encodes one EIT event with BCD-coded time fields.
func eitEventEntry(eventID uint16, mjd uint16, hh, mm, ss byte, durH, durM, durS byte, running RunningStatus, descs []byte) []byte {
	e := []byte{
		byte(eventID >> 8), byte(eventID),
		byte(mjd >> 8), byte(mjd), toBCD(hh), toBCD(mm), toBCD(ss),
		toBCD(durH), toBCD(durM), toBCD(durS),
		byte(running)<<5 | byte(len(descs)>>8)&0x0F, byte(len(descs)),
	}
	return append(e, descs...)
}

// eitBody encodes an EIT body with the given pre-encoded event entries.
func eitBody(tsID, originalNetworkID uint16, events ...[]byte) []byte {
	body := []byte{
		byte(tsID >> 8), byte(tsID),
		byte(originalNetworkID >> 8), byte(originalNetworkID),
		0x00, // segment_last_section_number
		TableIDEIT,
	}
	for _, e := range events {
		body = append(body, e...)
	}
	return body
}

func toBCD(v byte) byte {
	return v/10<<4 | v%10
}
