package reduce

import (
	"encoding/binary"
	"fmt"
	"math"
)

// regionNameWireLen is the NUL-padded width of the region_name wire
// field (§4.6).
const regionNameWireLen = 64

// recordStride returns the byte width of one packed record for a
// feature vector of length f: rank(4) + f*float32(4) + policy(4) +
// region_name(64) + avg_time(8), all little-endian.
func recordStride(f int) int {
	return 4 + 4*f + 4 + regionNameWireLen + 8
}

// Record is one row of the best-policy wire format: one rank's
// best-known policy for one (region, feature-vector) pair.
type Record struct {
	Rank        int32
	Features    []float32
	PolicyIndex int32
	RegionName  string
	AvgTime     float64
}

// Pack serializes records into the §4.6 wire layout. All records must
// share the same feature count F; Pack fails otherwise, since F is
// constant within a run. Region names longer than 63 bytes are
// rejected since they cannot round-trip through the 64-byte NUL-padded
// field.
func Pack(records []Record, featureCount int) ([]byte, error) {
	buf := make([]byte, 0, len(records)*recordStride(featureCount))
	for i, r := range records {
		if len(r.Features) != featureCount {
			return nil, fmt.Errorf("reduce: record %d has %d features, want %d", i, len(r.Features), featureCount)
		}
		if len(r.RegionName) > regionNameWireLen-1 {
			return nil, fmt.Errorf("reduce: record %d region name %q exceeds %d bytes", i, r.RegionName, regionNameWireLen-1)
		}

		var scratch [8]byte
		binary.LittleEndian.PutUint32(scratch[:4], uint32(r.Rank))
		buf = append(buf, scratch[:4]...)

		for _, f := range r.Features {
			binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(f))
			buf = append(buf, scratch[:4]...)
		}

		binary.LittleEndian.PutUint32(scratch[:4], uint32(r.PolicyIndex))
		buf = append(buf, scratch[:4]...)

		name := make([]byte, regionNameWireLen)
		copy(name, r.RegionName)
		buf = append(buf, name...)

		binary.LittleEndian.PutUint64(scratch[:8], math.Float64bits(r.AvgTime))
		buf = append(buf, scratch[:8]...)
	}
	return buf, nil
}

// Unpack parses a byte buffer previously produced by Pack (by this
// rank or a peer) back into Records, given the run's fixed feature
// count. A buffer whose length is not an exact multiple of the
// expected record stride indicates a peer packed with a different F —
// a collective error per §4.6.
func Unpack(buf []byte, featureCount int) ([]Record, error) {
	stride := recordStride(featureCount)
	if stride == 0 || len(buf)%stride != 0 {
		return nil, fmt.Errorf("reduce: buffer length %d is not a multiple of the record stride %d (feature count mismatch)", len(buf), stride)
	}

	n := len(buf) / stride
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		b := buf[i*stride : (i+1)*stride]
		off := 0

		rank := int32(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4

		features := make([]float32, featureCount)
		for j := 0; j < featureCount; j++ {
			features[j] = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
			off += 4
		}

		policy := int32(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4

		nameBytes := b[off : off+regionNameWireLen]
		off += regionNameWireLen
		name := string(trimNUL(nameBytes))

		avg := math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+8]))

		out = append(out, Record{Rank: rank, Features: features, PolicyIndex: policy, RegionName: name, AvgTime: avg})
	}
	return out, nil
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
