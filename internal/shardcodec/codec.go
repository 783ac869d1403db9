// Package shardcodec serialises spatial shards to the versioned blob format
// stored in the object store and the local cache.
//
// Layout (little-endian):
//
//	0  magic "PXSH"
//	4  format version
//	5  flags (reserved, must be zero)
//	6  zone number
//	7  zone letter
//	8  week start as days since the unix epoch (int32)
//	12 payload: WKB MultiPoint, zstd-framed when version >= 2
package shardcodec

import (
	"encoding/binary"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/spatial"
)

const (
	// VersionRaw stores the WKB payload as is.
	VersionRaw byte = 1
	// VersionZstd stores the WKB payload as a single zstd frame.
	VersionZstd byte = 2

	headerSize = 12
	secsPerDay = 24 * 60 * 60

	// maxDecodedSize caps a decompressed payload.
	maxDecodedSize = 1 << 30
)

var magic = [4]byte{'P', 'X', 'S', 'H'}

// Options controls encoding. The zero value writes the current version.
type Options struct {
	Version byte
	Level   zstd.EncoderLevel
}

var encoders sync.Map // zstd.EncoderLevel -> *zstd.Encoder

var decoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
})

func encoderFor(level zstd.EncoderLevel) (*zstd.Encoder, error) {
	if level == 0 {
		level = zstd.SpeedDefault
	}
	if enc, ok := encoders.Load(level); ok {
		return enc.(*zstd.Encoder), nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, eris.Wrap(err, "shardcodec: create zstd encoder")
	}
	actual, loaded := encoders.LoadOrStore(level, enc)
	if loaded {
		_ = enc.Close()
	}
	return actual.(*zstd.Encoder), nil
}

// Encode serialises s.
func Encode(s *spatial.Shard, opts Options) ([]byte, error) {
	if s == nil {
		return nil, eris.New("shardcodec: nil shard")
	}
	version := opts.Version
	if version == 0 {
		version = VersionZstd
	}
	if version != VersionRaw && version != VersionZstd {
		return nil, eris.Errorf("shardcodec: unsupported version %d", version)
	}
	key := s.Key()
	if !key.Zone.Valid() {
		return nil, eris.Errorf("shardcodec: invalid zone %q", key.Zone)
	}

	payload, err := wkb.Marshal(s.MultiPoint(), wkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "shardcodec: marshal points for %s", key)
	}

	out := make([]byte, headerSize, headerSize+len(payload))
	copy(out[0:4], magic[:])
	out[4] = version
	out[5] = 0
	out[6] = byte(key.Zone.Number)
	out[7] = key.Zone.Letter
	binary.LittleEndian.PutUint32(out[8:12], uint32(int32(key.Week.Unix()/secsPerDay)))

	if version == VersionRaw {
		return append(out, payload...), nil
	}
	enc, err := encoderFor(opts.Level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(payload, out), nil
}

// Decode parses a blob produced by Encode and rebuilds the shard. Any
// structural problem is reported as a data integrity error.
func Decode(blob []byte) (*spatial.Shard, error) {
	key, version, err := DecodeHeader(blob)
	if err != nil {
		return nil, err
	}

	payload := blob[headerSize:]
	if version == VersionZstd {
		dec, err := decoder()
		if err != nil {
			return nil, eris.Wrap(err, "shardcodec: create zstd decoder")
		}
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, integrity("decompress payload for "+key.String(), err)
		}
	}

	g, err := wkb.Unmarshal(payload)
	if err != nil {
		return nil, integrity("unmarshal points for "+key.String(), err)
	}
	mp, ok := g.(*geom.MultiPoint)
	if !ok {
		return nil, integrity("payload for "+key.String()+" is not a multipoint", nil)
	}
	s, err := spatial.NewShardFromMultiPoint(key, mp)
	if err != nil {
		return nil, integrity("rebuild "+key.String(), err)
	}
	return s, nil
}

// DecodeHeader validates the fixed header and returns the shard key and
// format version without touching the payload.
func DecodeHeader(blob []byte) (model.ShardKey, byte, error) {
	if len(blob) < headerSize {
		return model.ShardKey{}, 0, integrity("blob shorter than header", nil)
	}
	if [4]byte(blob[0:4]) != magic {
		return model.ShardKey{}, 0, integrity("bad magic", nil)
	}
	version := blob[4]
	if version != VersionRaw && version != VersionZstd {
		return model.ShardKey{}, 0, integrity("unknown format version "+strconv.Itoa(int(version)), nil)
	}
	if blob[5] != 0 {
		return model.ShardKey{}, 0, integrity("unknown flags", nil)
	}
	zone := model.Zone{Number: int(blob[6]), Letter: blob[7]}
	if !zone.Valid() {
		return model.ShardKey{}, 0, integrity("invalid zone in header", nil)
	}
	days := int32(binary.LittleEndian.Uint32(blob[8:12]))
	week := time.Unix(int64(days)*secsPerDay, 0).UTC()
	return model.ShardKey{Week: week, Zone: zone}, version, nil
}

func integrity(msg string, err error) error {
	return model.NewError(model.KindDataIntegrity, "shardcodec: "+msg, err)
}
