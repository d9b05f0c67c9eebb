// Package pmtiles reads and writes PMTiles v3 archives holding gzipped
// vector tiles in a single root directory.
//
// Format: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
)

var (
	// ErrNotArchive is returned when the data does not start with a v3 header.
	ErrNotArchive = errors.New("not a PMTiles v3 archive")
	// ErrTileNotFound is returned for tiles the archive does not address.
	ErrTileNotFound = errors.New("tile not found")
)

// Compression is the compression applied to directories, metadata or tiles.
type Compression uint8

const (
	CompressionUnknown Compression = 0
	CompressionNone    Compression = 1
	CompressionGzip    Compression = 2
)

// TileTypeMVT marks archives of Mapbox vector tiles.
const TileTypeMVT uint8 = 1

const headerLen = 127

// Header is the fixed-size archive header.
type Header struct {
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTiles      uint64
	TileEntries         uint64
	TileContents        uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            uint8
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// Tile is one encoded tile.
type Tile struct {
	Z    uint8
	X, Y uint32
	Data []byte
}

// entry addresses RunLength consecutive tile ids sharing one blob.
type entry struct {
	id     uint64
	offset uint64
	length uint32
	run    uint32
}

// TileID is the Hilbert curve id of (z, x, y).
func TileID(z uint8, x, y uint32) uint64 {
	if z == 0 {
		return 0
	}
	id := (uint64(1)<<(2*uint64(z)) - 1) / 3
	n := uint32(z - 1)
	for s := uint32(1) << n; s > 0; s >>= 1 {
		rx, ry := s&x, s&y
		id += uint64((3*rx)^ry) << n
		if ry == 0 {
			if rx != 0 {
				x, y = s-1-x, s-1-y
			}
			x, y = y, x
		}
		n--
	}
	return id
}

// WriteOptions describes the archive being written.
type WriteOptions struct {
	Metadata map[string]any
	// Bounds is min lon, min lat, max lon, max lat.
	Bounds [4]float64
}

// Write encodes tiles into an archive. Tile data is expected to be gzipped
// MVT. Identical tile blobs are stored once.
func Write(w io.Writer, tiles []Tile, opts WriteOptions) error {
	if len(tiles) == 0 {
		return errors.New("pmtiles: no tiles to write")
	}
	sorted := slices.Clone(tiles)
	slices.SortFunc(sorted, func(a, b Tile) int {
		ia, ib := TileID(a.Z, a.X, a.Y), TileID(b.Z, b.X, b.Y)
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
		return 0
	})

	var (
		entries []entry
		data    bytes.Buffer
		blobs   = map[string]uint64{}
		minZ    = sorted[0].Z
		maxZ    = sorted[0].Z
	)
	for _, t := range sorted {
		minZ, maxZ = min(minZ, t.Z), max(maxZ, t.Z)
		id := TileID(t.Z, t.X, t.Y)
		if n := len(entries); n > 0 && entries[n-1].id == id {
			return fmt.Errorf("pmtiles: duplicate tile %d/%d/%d", t.Z, t.X, t.Y)
		}
		offset, seen := blobs[string(t.Data)]
		if !seen {
			offset = uint64(data.Len())
			blobs[string(t.Data)] = offset
			data.Write(t.Data)
		}
		// Extend the previous run when the same blob repeats on the next id.
		if n := len(entries); n > 0 {
			last := &entries[n-1]
			if last.offset == offset && last.id+uint64(last.run) == id {
				last.run++
				continue
			}
		}
		entries = append(entries, entry{id: id, offset: offset, length: uint32(len(t.Data)), run: 1})
	}

	root, err := encodeDirectory(entries)
	if err != nil {
		return err
	}
	meta, err := gzipJSON(opts.Metadata)
	if err != nil {
		return fmt.Errorf("pmtiles: metadata: %w", err)
	}

	h := Header{
		RootOffset:          headerLen,
		RootLength:          uint64(len(root)),
		MetadataOffset:      headerLen + uint64(len(root)),
		MetadataLength:      uint64(len(meta)),
		TileDataOffset:      headerLen + uint64(len(root)) + uint64(len(meta)),
		TileDataLength:      uint64(data.Len()),
		AddressedTiles:      uint64(len(sorted)),
		TileEntries:         uint64(len(entries)),
		TileContents:        uint64(len(blobs)),
		Clustered:           true,
		InternalCompression: CompressionGzip,
		TileCompression:     CompressionGzip,
		TileType:            TileTypeMVT,
		MinZoom:             minZ,
		MaxZoom:             maxZ,
		MinLonE7:            e7(opts.Bounds[0]),
		MinLatE7:            e7(opts.Bounds[1]),
		MaxLonE7:            e7(opts.Bounds[2]),
		MaxLatE7:            e7(opts.Bounds[3]),
		CenterZoom:          minZ,
		CenterLonE7:         e7((opts.Bounds[0] + opts.Bounds[2]) / 2),
		CenterLatE7:         e7((opts.Bounds[1] + opts.Bounds[3]) / 2),
	}
	for _, part := range [][]byte{h.marshal(), root, meta, data.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("pmtiles: write: %w", err)
		}
	}
	return nil
}

// Archive is an opened archive.
type Archive struct {
	r       io.ReaderAt
	header  Header
	entries []entry
	meta    map[string]any
}

// Open reads the header, root directory and metadata of an archive.
func Open(r io.ReaderAt) (*Archive, error) {
	buf := make([]byte, headerLen)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("pmtiles: read header: %w", err)
	}
	h, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.LeafDirectoryLength > 0 {
		return nil, errors.New("pmtiles: leaf directories are not supported")
	}

	a := &Archive{r: r, header: h}
	root, err := a.section(h.RootOffset, h.RootLength, h.InternalCompression)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: root directory: %w", err)
	}
	if a.entries, err = decodeDirectory(root); err != nil {
		return nil, err
	}
	if h.MetadataLength > 0 {
		raw, err := a.section(h.MetadataOffset, h.MetadataLength, h.InternalCompression)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: metadata: %w", err)
		}
		if err := json.Unmarshal(raw, &a.meta); err != nil {
			return nil, fmt.Errorf("pmtiles: metadata: %w", err)
		}
	}
	return a, nil
}

// Header returns the archive header.
func (a *Archive) Header() Header { return a.header }

// Metadata returns the decoded metadata object.
func (a *Archive) Metadata() map[string]any { return a.meta }

// Tile returns the stored (still compressed) tile at z/x/y.
func (a *Archive) Tile(z uint8, x, y uint32) ([]byte, error) {
	if z < a.header.MinZoom || z > a.header.MaxZoom || x >= 1<<z || y >= 1<<z {
		return nil, ErrTileNotFound
	}
	id := TileID(z, x, y)
	i, found := slices.BinarySearchFunc(a.entries, id, func(e entry, id uint64) int {
		switch {
		case e.id < id:
			return -1
		case e.id > id:
			return 1
		}
		return 0
	})
	if !found {
		if i == 0 {
			return nil, ErrTileNotFound
		}
		i--
	}
	e := a.entries[i]
	if id >= e.id+uint64(e.run) {
		return nil, ErrTileNotFound
	}
	out := make([]byte, e.length)
	if _, err := a.r.ReadAt(out, int64(a.header.TileDataOffset+e.offset)); err != nil {
		return nil, fmt.Errorf("pmtiles: read tile %d/%d/%d: %w", z, x, y, err)
	}
	return out, nil
}

func (a *Archive) section(offset, length uint64, c Compression) ([]byte, error) {
	raw := make([]byte, length)
	if _, err := a.r.ReadAt(raw, int64(offset)); err != nil {
		return nil, err
	}
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return nil, fmt.Errorf("unsupported compression %d", c)
}

// encodeDirectory writes ids as deltas, then run lengths, lengths and
// offsets, each column as uvarints. An offset of 0 means "directly after the
// previous entry"; any other value is offset+1.
func encodeDirectory(entries []entry) ([]byte, error) {
	var b bytes.Buffer
	zw := gzip.NewWriter(&b)
	bw := bufio.NewWriter(zw)
	tmp := make([]byte, binary.MaxVarintLen64)
	put := func(v uint64) {
		n := binary.PutUvarint(tmp, v)
		bw.Write(tmp[:n])
	}

	put(uint64(len(entries)))
	var last uint64
	for _, e := range entries {
		put(e.id - last)
		last = e.id
	}
	for _, e := range entries {
		put(uint64(e.run))
	}
	for _, e := range entries {
		put(uint64(e.length))
	}
	for i, e := range entries {
		if i > 0 && e.offset == entries[i-1].offset+uint64(entries[i-1].length) {
			put(0)
		} else {
			put(e.offset + 1)
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decodeDirectory(raw []byte) ([]entry, error) {
	r := bytes.NewReader(raw)
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: directory: %w", err)
	}
	if n > uint64(len(raw)) {
		return nil, errors.New("pmtiles: directory: entry count exceeds data")
	}
	entries := make([]entry, n)
	columns := []func(i int, v uint64){
		func(i int, v uint64) {
			entries[i].id = v
			if i > 0 {
				entries[i].id += entries[i-1].id
			}
		},
		func(i int, v uint64) { entries[i].run = uint32(v) },
		func(i int, v uint64) { entries[i].length = uint32(v) },
		func(i int, v uint64) {
			if v == 0 && i > 0 {
				entries[i].offset = entries[i-1].offset + uint64(entries[i-1].length)
			} else {
				entries[i].offset = v - 1
			}
		},
	}
	for _, set := range columns {
		for i := range entries {
			v, err := binary.ReadUvarint(r)
			if err != nil {
				return nil, fmt.Errorf("pmtiles: directory: %w", err)
			}
			set(i, v)
		}
	}
	for _, e := range entries {
		if e.run == 0 {
			return nil, errors.New("pmtiles: leaf directories are not supported")
		}
	}
	return entries, nil
}

func gzipJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	zw := gzip.NewWriter(&b)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func e7(deg float64) int32 { return int32(deg * 1e7) }

func (h Header) marshal() []byte {
	b := make([]byte, headerLen)
	copy(b, "PMTiles")
	b[7] = 3
	le := binary.LittleEndian
	for i, v := range []uint64{
		h.RootOffset, h.RootLength, h.MetadataOffset, h.MetadataLength,
		h.LeafDirectoryOffset, h.LeafDirectoryLength, h.TileDataOffset, h.TileDataLength,
		h.AddressedTiles, h.TileEntries, h.TileContents,
	} {
		le.PutUint64(b[8+8*i:], v)
	}
	if h.Clustered {
		b[96] = 1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = h.TileType
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	le.PutUint32(b[102:], uint32(h.MinLonE7))
	le.PutUint32(b[106:], uint32(h.MinLatE7))
	le.PutUint32(b[110:], uint32(h.MaxLonE7))
	le.PutUint32(b[114:], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	le.PutUint32(b[119:], uint32(h.CenterLonE7))
	le.PutUint32(b[123:], uint32(h.CenterLatE7))
	return b
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < headerLen || string(b[:7]) != "PMTiles" || b[7] != 3 {
		return Header{}, ErrNotArchive
	}
	le := binary.LittleEndian
	u := func(i int) uint64 { return le.Uint64(b[8+8*i:]) }
	i32 := func(off int) int32 { return int32(le.Uint32(b[off:])) }
	return Header{
		RootOffset:          u(0),
		RootLength:          u(1),
		MetadataOffset:      u(2),
		MetadataLength:      u(3),
		LeafDirectoryOffset: u(4),
		LeafDirectoryLength: u(5),
		TileDataOffset:      u(6),
		TileDataLength:      u(7),
		AddressedTiles:      u(8),
		TileEntries:         u(9),
		TileContents:        u(10),
		Clustered:           b[96] == 1,
		InternalCompression: Compression(b[97]),
		TileCompression:     Compression(b[98]),
		TileType:            b[99],
		MinZoom:             b[100],
		MaxZoom:             b[101],
		MinLonE7:            i32(102),
		MinLatE7:            i32(106),
		MaxLonE7:            i32(110),
		MaxLatE7:            i32(114),
		CenterZoom:          b[118],
		CenterLonE7:         i32(119),
		CenterLatE7:         i32(123),
	}, nil
}
