package container

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/zeebo/blake3"
)

// DType names the element type of a dataset.
type DType string

const (
	Float64 DType = "float64"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	String  DType = "string"
)

// Valid reports whether t is a supported element type.
func (t DType) Valid() bool {
	switch t {
	case Float64, Int64, Uint8, String:
		return true
	}
	return false
}

// Dataset is an n-dimensional array stored row-major.
// Data holds []float64, []int64, []uint8 or []string matching DType.
type Dataset struct {
	DType DType
	Shape []int
	Data  any
}

// NewFloat64 builds a float64 dataset. A nil shape means a 1-D array.
func NewFloat64(shape []int, data []float64) Dataset {
	return Dataset{DType: Float64, Shape: shapeOr(shape, len(data)), Data: data}
}

// NewInt64 builds an int64 dataset. A nil shape means a 1-D array.
func NewInt64(shape []int, data []int64) Dataset {
	return Dataset{DType: Int64, Shape: shapeOr(shape, len(data)), Data: data}
}

// NewUint8 builds a byte dataset. A nil shape means a 1-D array.
func NewUint8(shape []int, data []uint8) Dataset {
	return Dataset{DType: Uint8, Shape: shapeOr(shape, len(data)), Data: data}
}

// NewString builds a string dataset. A nil shape means a 1-D array.
func NewString(shape []int, data []string) Dataset {
	return Dataset{DType: String, Shape: shapeOr(shape, len(data)), Data: data}
}

func shapeOr(shape []int, n int) []int {
	if shape == nil {
		return []int{n}
	}
	return shape
}

// Len returns the number of elements implied by the shape, or -1 when the
// shape has a negative dimension or its product overflows int.
func (d Dataset) Len() int {
	n, ok := elements(d.Shape)
	if !ok {
		return -1
	}
	return n
}

func elements(shape []int) (int, bool) {
	empty := false
	for _, s := range shape {
		if s < 0 {
			return 0, false
		}
		if s == 0 {
			empty = true
		}
	}
	if empty {
		return 0, true
	}
	n := 1
	for _, s := range shape {
		if n > math.MaxInt/s {
			return 0, false
		}
		n *= s
	}
	return n, true
}

// Float64s returns the data as []float64, or nil for another dtype.
func (d Dataset) Float64s() []float64 {
	v, _ := d.Data.([]float64)
	return v
}

// Int64s returns the data as []int64, or nil for another dtype.
func (d Dataset) Int64s() []int64 {
	v, _ := d.Data.([]int64)
	return v
}

// Uint8s returns the data as []uint8, or nil for another dtype.
func (d Dataset) Uint8s() []uint8 {
	v, _ := d.Data.([]uint8)
	return v
}

// Strings returns the data as []string, or nil for another dtype.
func (d Dataset) Strings() []string {
	v, _ := d.Data.([]string)
	return v
}

func (d Dataset) validate() error {
	if !d.DType.Valid() {
		return fmt.Errorf("%w: unsupported dtype %q", ErrInvalidDataset, d.DType)
	}
	if len(d.Shape) == 0 {
		return fmt.Errorf("%w: shape is empty", ErrInvalidDataset)
	}
	for _, s := range d.Shape {
		if s < 0 {
			return fmt.Errorf("%w: negative dimension in shape %v", ErrInvalidDataset, d.Shape)
		}
	}

	var n int
	switch d.DType {
	case Float64:
		v, ok := d.Data.([]float64)
		if !ok {
			return fmt.Errorf("%w: dtype float64 needs []float64, got %T", ErrInvalidDataset, d.Data)
		}
		n = len(v)
	case Int64:
		v, ok := d.Data.([]int64)
		if !ok {
			return fmt.Errorf("%w: dtype int64 needs []int64, got %T", ErrInvalidDataset, d.Data)
		}
		n = len(v)
	case Uint8:
		v, ok := d.Data.([]uint8)
		if !ok {
			return fmt.Errorf("%w: dtype uint8 needs []uint8, got %T", ErrInvalidDataset, d.Data)
		}
		n = len(v)
	case String:
		v, ok := d.Data.([]string)
		if !ok {
			return fmt.Errorf("%w: dtype string needs []string, got %T", ErrInvalidDataset, d.Data)
		}
		n = len(v)
	}
	want, ok := elements(d.Shape)
	if !ok {
		return fmt.Errorf("%w: element count of shape %v overflows", ErrInvalidDataset, d.Shape)
	}
	if n != want {
		return fmt.Errorf("%w: shape %v holds %d elements, data has %d", ErrInvalidDataset, d.Shape, want, n)
	}
	return nil
}

// encode serializes the data: numeric types little-endian, strings as JSON.
func (d Dataset) encode() ([]byte, error) {
	switch d.DType {
	case Float64:
		v := d.Data.([]float64)
		buf := make([]byte, 8*len(v))
		for i, f := range v {
			binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
		}
		return buf, nil
	case Int64:
		v := d.Data.([]int64)
		buf := make([]byte, 8*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint64(buf[8*i:], uint64(x))
		}
		return buf, nil
	case Uint8:
		return bytes.Clone(d.Data.([]uint8)), nil
	case String:
		return json.Marshal(d.Data.([]string))
	}
	return nil, fmt.Errorf("%w: unsupported dtype %q", ErrInvalidDataset, d.DType)
}

func decode(dtype DType, shape []int, raw []byte) (Dataset, error) {
	d := Dataset{DType: dtype, Shape: shape}
	switch dtype {
	case Float64:
		if len(raw)%8 != 0 {
			return d, fmt.Errorf("%w: float64 payload length %d", ErrInvalidDataset, len(raw))
		}
		v := make([]float64, len(raw)/8)
		for i := range v {
			v[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		d.Data = v
	case Int64:
		if len(raw)%8 != 0 {
			return d, fmt.Errorf("%w: int64 payload length %d", ErrInvalidDataset, len(raw))
		}
		v := make([]int64, len(raw)/8)
		for i := range v {
			v[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		d.Data = v
	case Uint8:
		d.Data = bytes.Clone(raw)
	case String:
		var v []string
		if err := json.Unmarshal(raw, &v); err != nil {
			return d, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
		}
		if v == nil {
			v = []string{}
		}
		d.Data = v
	default:
		return d, fmt.Errorf("%w: unsupported dtype %q", ErrInvalidDataset, dtype)
	}
	return d, d.validate()
}

// Checksum returns the hex blake3 digest of an encoded payload, prefixed "blake3:".
func Checksum(payload []byte) string {
	sum := blake3.Sum256(payload)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// CreateDataset stores a new dataset. Names are slash-separated paths such as
// "mesh/nodes"; a name can be written only once.
func (c *Container) CreateDataset(name string, ds Dataset) error {
	name = strings.Trim(name, "/")
	if name == "" {
		return fmt.Errorf("%w: dataset name is empty", ErrInvalidDataset)
	}
	if err := ds.validate(); err != nil {
		return fmt.Errorf("dataset %q: %w", name, err)
	}
	payload, err := ds.encode()
	if err != nil {
		return fmt.Errorf("dataset %q: %w", name, err)
	}
	shape, err := json.Marshal(ds.Shape)
	if err != nil {
		return fmt.Errorf("dataset %q: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writable(); err != nil {
		return err
	}
	if _, err := c.db.Exec(
		"INSERT INTO datasets(name, dtype, shape, data, checksum) VALUES(?, ?, ?, ?, ?);",
		name, string(ds.DType), string(shape), payload, Checksum(payload),
	); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("dataset %q: %w", name, ErrExists)
		}
		return ioErr("create dataset", err)
	}
	return nil
}

// Dataset reads a dataset and verifies its checksum.
func (c *Container) Dataset(name string) (Dataset, error) {
	name = strings.Trim(name, "/")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Dataset{}, ErrClosed
	}

	var (
		dtype, shapeJSON, checksum string
		payload                    []byte
	)
	err := c.db.QueryRow(
		"SELECT dtype, shape, data, checksum FROM datasets WHERE name = ?;", name,
	).Scan(&dtype, &shapeJSON, &payload, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, fmt.Errorf("dataset %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Dataset{}, ioErr("read dataset", err)
	}

	if got := Checksum(payload); got != checksum {
		return Dataset{}, fmt.Errorf("dataset %q: %w: stored %s, computed %s", name, ErrChecksumMismatch, checksum, got)
	}

	var shape []int
	if err := json.Unmarshal([]byte(shapeJSON), &shape); err != nil {
		return Dataset{}, fmt.Errorf("dataset %q: %w: bad shape: %v", name, ErrInvalidDataset, err)
	}
	ds, err := decode(DType(dtype), shape, payload)
	if err != nil {
		return Dataset{}, fmt.Errorf("dataset %q: %w", name, err)
	}
	return ds, nil
}

// DatasetNames returns all dataset names in lexical order.
func (c *Container) DatasetNames() ([]string, error) {
	return c.names("SELECT name FROM datasets ORDER BY name;")
}
