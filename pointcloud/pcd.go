package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
	"gorgonia.org/tensor"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed lzf compressed binary format for pcd, stored field by field.
	PCDCompressed PCDType = 2
)

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	fields []string
	size   []int
	types  []pcdValType
	count  []int
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

func (h *pcdHeader) index(field string) int {
	for i, f := range h.fields {
		if f == field {
			return i
		}
	}
	return -1
}

// WritePCD writes the cloud's positions, and its normals and colors if present, as a PCD file.
// Float64 clouds are written with 8 byte floats, float32 clouds with 4 byte floats.
func WritePCD(cloud *PointCloud, out io.Writer, outputType PCDType) error {
	if outputType != PCDAscii && outputType != PCDBinary && outputType != PCDCompressed {
		return errors.Errorf("unknown pcd type %d", outputType)
	}

	positions, err := cloud.Vectors(PositionsAttr)
	if err != nil {
		return err
	}
	var normals []r3.Vector
	if cloud.HasNormals() {
		if normals, err = cloud.Vectors(NormalsAttr); err != nil {
			return err
		}
	}
	var colors []r3.Vector
	if cloud.HasColors() {
		if colors, err = cloud.Vectors(ColorsAttr); err != nil {
			return err
		}
	}

	floatSize := 8
	if cloud.Dtype() == tensor.Float32 {
		floatSize = 4
	}
	fields := []string{"x", "y", "z"}
	if normals != nil {
		fields = append(fields, "normal_x", "normal_y", "normal_z")
	}
	numFloats := len(fields)
	if colors != nil {
		fields = append(fields, "rgb")
	}
	sizes := make([]string, len(fields))
	types := make([]string, len(fields))
	counts := make([]string, len(fields))
	for i := range fields {
		sizes[i], types[i], counts[i] = strconv.Itoa(floatSize), string(pcdValFloat), "1"
		if i >= numFloats {
			sizes[i], types[i] = "4", string(pcdValUInt)
		}
	}

	w := bufio.NewWriter(out)
	if _, err := fmt.Fprintf(w, "VERSION .7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		strings.Join(fields, " "),
		strings.Join(sizes, " "),
		strings.Join(types, " "),
		strings.Join(counts, " "),
		cloud.Size(),
		cloud.Size(),
	); err != nil {
		return err
	}
	dataName := "ascii"
	switch outputType {
	case PCDBinary:
		dataName = "binary"
	case PCDCompressed:
		dataName = "binary_compressed"
	}
	if _, err := fmt.Fprintf(w, "DATA %s\n", dataName); err != nil {
		return err
	}

	var columns [][]byte
	if outputType == PCDCompressed {
		columns = make([][]byte, len(fields))
	}
	row := make([]float64, 0, numFloats)
	for i, p := range positions {
		row = append(row[:0], p.X, p.Y, p.Z)
		if normals != nil {
			row = append(row, normals[i].X, normals[i].Y, normals[i].Z)
		}
		var rgb uint32
		if colors != nil {
			rgb = colorToPCDInt(colors[i])
		}
		switch outputType {
		case PCDAscii:
			err = writeASCIIRow(w, row, colors != nil, rgb)
		case PCDBinary:
			_, err = w.Write(encodeBinaryRow(row, floatSize, colors != nil, rgb))
		case PCDCompressed:
			buf := encodeBinaryRow(row, floatSize, colors != nil, rgb)
			for f := range columns {
				size := floatSize
				if f >= numFloats {
					size = 4
				}
				columns[f] = append(columns[f], buf[:size]...)
				buf = buf[size:]
			}
		}
		if err != nil {
			return err
		}
	}
	if outputType == PCDCompressed {
		if err := writeCompressedColumns(w, columns); err != nil {
			return err
		}
	}
	return w.Flush()
}

// writeCompressedColumns writes the compressed size, the uncompressed size and the lzf compressed
// concatenation of columns.
func writeCompressedColumns(w io.Writer, columns [][]byte) error {
	var uncompressed []byte
	for _, column := range columns {
		uncompressed = append(uncompressed, column...)
	}
	compressed := make([]byte, len(uncompressed)+len(uncompressed)/16+64)
	n, err := lzf.Compress(uncompressed, compressed)
	if err != nil {
		return errors.Wrap(err, "compressing pcd data")
	}
	sizes := binary.LittleEndian.AppendUint32(nil, uint32(n))
	sizes = binary.LittleEndian.AppendUint32(sizes, uint32(len(uncompressed)))
	if _, err := w.Write(sizes); err != nil {
		return err
	}
	_, err = w.Write(compressed[:n])
	return err
}

func writeASCIIRow(w io.Writer, row []float64, hasColor bool, rgb uint32) error {
	tokens := make([]string, 0, len(row)+1)
	for _, v := range row {
		tokens = append(tokens, strconv.FormatFloat(v, 'g', -1, 64))
	}
	if hasColor {
		tokens = append(tokens, strconv.FormatUint(uint64(rgb), 10))
	}
	_, err := fmt.Fprintln(w, strings.Join(tokens, " "))
	return err
}

func encodeBinaryRow(row []float64, floatSize int, hasColor bool, rgb uint32) []byte {
	buf := make([]byte, 0, len(row)*floatSize+4)
	for _, v := range row {
		if floatSize == 4 {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
		} else {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	if hasColor {
		buf = binary.LittleEndian.AppendUint32(buf, rgb)
	}
	return buf
}

func colorToPCDInt(c r3.Vector) uint32 {
	r, g, b := colorful.Color{R: c.X, G: c.Y, B: c.Z}.Clamped().RGB255()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func pcdIntToColor(c uint32) r3.Vector {
	return r3.Vector{
		X: float64(0xFF&(c>>16)) / 255,
		Y: float64(0xFF&(c>>8)) / 255,
		Z: float64(0xFF&c) / 255,
	}
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		if len(tokens) < 3 || tokens[0] != "x" || tokens[1] != "y" || tokens[2] != "z" {
			return errors.Errorf("unsupported pcd fields %s", value)
		}
		header.fields = tokens
	case "SIZE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]int, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.Atoi(token)
			if err != nil || (header.size[i] != 1 && header.size[i] != 2 && header.size[i] != 4 && header.size[i] != 8) {
				return errors.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.types = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			switch t := pcdValType(token); t {
			case pcdValFloat, pcdValInt, pcdValUInt:
				header.types[i] = t
			default:
				return errors.Errorf("invalid TYPE field %s", token)
			}
		}
	case "COUNT":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in COUNT line")
		}
		header.count = make([]int, len(tokens))
		for i, token := range tokens {
			header.count[i], err = strconv.Atoi(token)
			if err != nil || header.count[i] < 1 {
				return errors.Errorf("invalid COUNT field %s", token)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		for _, token := range tokens {
			if _, err := strconv.ParseFloat(token, 64); err != nil {
				return errors.Wrapf(err, "invalid VIEWPOINT field %s", token)
			}
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

// ReadPCD reads an ascii, binary or binary_compressed PCD file. Positions and normals are stored with the given dtype;
// the rgb field, if present, becomes the colors attribute. Other fields are skipped.
func ReadPCD(inRaw io.Reader, dtype tensor.Dtype, device Device) (*PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	if header.points == 0 {
		return nil, ErrEmptyCloud
	}

	var rows [][]float64
	var err error
	switch header.data {
	case PCDAscii:
		rows, err = readPCDAscii(in, header)
	case PCDBinary:
		rows, err = readPCDBinary(in, header)
	case PCDCompressed:
		rows, err = readPCDCompressed(in, header)
	default:
		return nil, errors.Errorf("unsupported pcd data type %v", header.data)
	}
	if err != nil {
		return nil, err
	}
	return rowsToCloud(rows, header, dtype, device)
}

// rowWidth is the number of values per point, counting each field COUNT times.
func (h *pcdHeader) rowWidth() int {
	width := 0
	for _, c := range h.count {
		width += c
	}
	return width
}

// offset is the position of a field's first value within a row.
func (h *pcdHeader) offset(field int) int {
	off := 0
	for i := 0; i < field; i++ {
		off += h.count[i]
	}
	return off
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) ([][]float64, error) {
	rows := make([][]float64, 0, header.points)
	width := header.rowWidth()
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != width {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		row := make([]float64, width)
		for j, token := range tokens {
			row[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) ([][]float64, error) {
	rows := make([][]float64, 0, header.points)
	for i := 0; i < int(header.points); i++ {
		row := make([]float64, 0, header.rowWidth())
		for j := range header.fields {
			buf := make([]byte, header.size[j])
			for c := 0; c < header.count[j]; c++ {
				if _, err := io.ReadFull(in, buf); err != nil {
					return nil, errors.Wrapf(err, "reading point %d", i)
				}
				v, err := decodePCDValue(buf, header.types[j], header.fields[j])
				if err != nil {
					return nil, err
				}
				row = append(row, v)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// readPCDCompressed reads lzf compressed data in which each field's values for all points are
// stored contiguously.
func readPCDCompressed(in *bufio.Reader, header pcdHeader) ([][]float64, error) {
	sizes := make([]byte, 8)
	if _, err := io.ReadFull(in, sizes); err != nil {
		return nil, errors.Wrap(err, "reading compressed sizes")
	}
	compressedSize := binary.LittleEndian.Uint32(sizes[:4])
	uncompressedSize := binary.LittleEndian.Uint32(sizes[4:])

	expected := uint64(0)
	for j := range header.fields {
		expected += header.points * uint64(header.size[j]*header.count[j])
	}
	if uint64(uncompressedSize) != expected {
		return nil, errors.Errorf("uncompressed size %d does not match header, expected %d", uncompressedSize, expected)
	}
	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return nil, errors.Wrap(err, "reading compressed data")
	}
	data := make([]byte, uncompressedSize)
	n, err := lzf.Decompress(compressed, data)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing pcd data")
	}
	if n != len(data) {
		return nil, errors.Errorf("decompressed %d bytes, expected %d", n, len(data))
	}

	width := header.rowWidth()
	rows := make([][]float64, header.points)
	for i := range rows {
		rows[i] = make([]float64, 0, width)
	}
	start := 0
	for j := range header.fields {
		stride := header.size[j] * header.count[j]
		for i := range rows {
			base := start + i*stride
			for c := 0; c < header.count[j]; c++ {
				off := base + c*header.size[j]
				v, err := decodePCDValue(data[off:off+header.size[j]], header.types[j], header.fields[j])
				if err != nil {
					return nil, err
				}
				rows[i] = append(rows[i], v)
			}
		}
		start += stride * len(rows)
	}
	return rows, nil
}

func decodePCDValue(buf []byte, typ pcdValType, field string) (float64, error) {
	// packed colors keep their bit pattern whatever type they are declared as
	if field == "rgb" && len(buf) == 4 {
		return float64(binary.LittleEndian.Uint32(buf)), nil
	}
	switch typ {
	case pcdValFloat:
		switch len(buf) {
		case 4:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))), nil
		case 8:
			return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
		}
	case pcdValUInt:
		switch len(buf) {
		case 1:
			return float64(buf[0]), nil
		case 2:
			return float64(binary.LittleEndian.Uint16(buf)), nil
		case 4:
			return float64(binary.LittleEndian.Uint32(buf)), nil
		case 8:
			return float64(binary.LittleEndian.Uint64(buf)), nil
		}
	case pcdValInt:
		switch len(buf) {
		case 1:
			return float64(int8(buf[0])), nil
		case 2:
			return float64(int16(binary.LittleEndian.Uint16(buf))), nil
		case 4:
			return float64(int32(binary.LittleEndian.Uint32(buf))), nil
		case 8:
			return float64(int64(binary.LittleEndian.Uint64(buf))), nil
		}
	}
	return 0, errors.Errorf("unsupported pcd value type %s of size %d", typ, len(buf))
}

func rowsToCloud(rows [][]float64, header pcdHeader, dtype tensor.Dtype, device Device) (*PointCloud, error) {
	x, y, z := header.offset(0), header.offset(1), header.offset(2)
	positions := make([]r3.Vector, len(rows))
	for i, row := range rows {
		positions[i] = r3.Vector{X: row[x], Y: row[y], Z: row[z]}
	}
	cloud, err := NewFromVectors(positions, dtype, device)
	if err != nil {
		return nil, err
	}

	if nx := header.index("normal_x"); nx >= 0 {
		ny, nz := header.index("normal_y"), header.index("normal_z")
		if ny < 0 || nz < 0 {
			return nil, errors.New("pcd has normal_x without normal_y and normal_z")
		}
		nx, ny, nz = header.offset(nx), header.offset(ny), header.offset(nz)
		normals := make([]r3.Vector, len(rows))
		for i, row := range rows {
			normals[i] = r3.Vector{X: row[nx], Y: row[ny], Z: row[nz]}
		}
		if err := cloud.SetNormals(normals); err != nil {
			return nil, err
		}
	}

	if c := header.index("rgb"); c >= 0 {
		c = header.offset(c)
		colors := make([]r3.Vector, len(rows))
		for i, row := range rows {
			colors[i] = pcdIntToColor(uint32(row[c]))
		}
		if err := cloud.SetColors(colors); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}
