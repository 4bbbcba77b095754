// Package checkpoint saves and restores planner weights.
//
// A checkpoint is a flat mapping holding exactly the entries w1, b1, w2 and
// b2, with matrices stored as lists of rows. An optional "metadata" object
// alongside them carries the run ID, creation time and network dimensions;
// without it the dimensions are read from the entry shapes. The document is
// a google.protobuf.Struct written either as protobuf JSON (.json) or
// protobuf binary (.pb).
package checkpoint

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/onboard/internal/fsutil"
	"github.com/banshee-data/onboard/internal/linalg"
	"github.com/banshee-data/onboard/internal/monitoring"
	"github.com/banshee-data/onboard/internal/planner"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"gonum.org/v1/gonum/mat"
)

// Weight entry names.
const (
	EntryW1 = "w1"
	EntryB1 = "b1"
	EntryW2 = "w2"
	EntryB2 = "b2"
)

var entryNames = []string{EntryW1, EntryB1, EntryW2, EntryB2}

// metadataKey is the only key allowed besides the weight entries.
const metadataKey = "metadata"

var (
	// ErrUnknownFormat is returned for a path whose extension is neither
	// .json nor .pb.
	ErrUnknownFormat = errors.New("unknown checkpoint format")
	// ErrMalformed is returned when the document does not have the expected
	// structure or types.
	ErrMalformed = errors.New("malformed checkpoint")
)

// Format selects the on-disk encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatProto
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatProto:
		return "pb"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".pb":
		return FormatProto, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// Metadata describes where a checkpoint came from and the network shape.
// A checkpoint loaded without metadata has a nil RunID and zero CreatedAt.
type Metadata struct {
	RunID     uuid.UUID
	CreatedAt time.Time
	StateDim  int
	ActionDim int
	HiddenDim int
}

func (m Metadata) plannerDims() planner.Config {
	return planner.Config{StateDim: m.StateDim, ActionDim: m.ActionDim, HiddenDim: m.HiddenDim}
}

// Checkpoint is a snapshot of planner weights plus metadata.
type Checkpoint struct {
	Metadata Metadata
	Weights  planner.Weights
}

// FromPlanner snapshots p's current weights.
func FromPlanner(p *planner.Planner, runID uuid.UUID, createdAt time.Time) *Checkpoint {
	cfg := p.Config()
	return &Checkpoint{
		Metadata: Metadata{
			RunID:     runID,
			CreatedAt: createdAt.UTC(),
			StateDim:  cfg.StateDim,
			ActionDim: cfg.ActionDim,
			HiddenDim: cfg.HiddenDim,
		},
		Weights: p.Weights(),
	}
}

// Apply loads the checkpoint weights into p. The checkpoint dimensions must
// match the planner's.
func (c *Checkpoint) Apply(p *planner.Planner) error {
	cfg := p.Config()
	m := c.Metadata
	if m.StateDim != cfg.StateDim || m.ActionDim != cfg.ActionDim || m.HiddenDim != cfg.HiddenDim {
		return fmt.Errorf("%w: checkpoint dims (state=%d action=%d hidden=%d), planner (state=%d action=%d hidden=%d)",
			linalg.ErrDimensionMismatch, m.StateDim, m.ActionDim, m.HiddenDim, cfg.StateDim, cfg.ActionDim, cfg.HiddenDim)
	}
	return p.SetWeights(c.Weights)
}

// Marshal encodes c in the given format.
func Marshal(c *Checkpoint, f Format) ([]byte, error) {
	if err := c.Weights.Validate(c.Metadata.plannerDims()); err != nil {
		return nil, err
	}
	doc, err := c.toStruct()
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatJSON:
		return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(doc)
	case FormatProto:
		return proto.MarshalOptions{Deterministic: true}.Marshal(doc)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, f)
}

// Unmarshal decodes a checkpoint and checks that every weight entry has the
// shape the metadata declares, or that the entries agree with each other when
// there is no metadata.
func Unmarshal(data []byte, f Format) (*Checkpoint, error) {
	doc := &structpb.Struct{}
	var err error
	switch f {
	case FormatJSON:
		err = protojson.Unmarshal(data, doc)
	case FormatProto:
		err = proto.Unmarshal(data, doc)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromStruct(doc)
}

// Save writes c to path atomically, choosing the format from the extension.
func Save(fsys fsutil.FileSystem, path string, c *Checkpoint) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := Marshal(c, f)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(fsys, path, data, 0o644); err != nil {
		return err
	}
	monitoring.Logf("checkpoint: saved run %s to %s (%d bytes)", c.Metadata.RunID, path, len(data))
	return nil
}

// Load reads a checkpoint from path, choosing the format from the extension.
func Load(fsys fsutil.FileSystem, path string) (*Checkpoint, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Unmarshal(data, f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return c, nil
}

func (c *Checkpoint) toStruct() (*structpb.Struct, error) {
	m := c.Metadata
	doc := map[string]any{
		EntryW1: matrixToList(c.Weights.W1),
		EntryB1: vectorToList(c.Weights.B1),
		EntryW2: matrixToList(c.Weights.W2),
		EntryB2: vectorToList(c.Weights.B2),
	}
	doc[metadataKey] = map[string]any{
		"run_id":     m.RunID.String(),
		"created_at": m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"state_dim":  m.StateDim,
		"action_dim": m.ActionDim,
		"hidden_dim": m.HiddenDim,
	}
	return structpb.NewStruct(doc)
}

func fromStruct(doc *structpb.Struct) (*Checkpoint, error) {
	fields := doc.GetFields()
	if err := checkEntries(fields); err != nil {
		return nil, err
	}

	var w planner.Weights
	var err error
	if w.W1, err = listToMatrix(EntryW1, fields[EntryW1]); err != nil {
		return nil, err
	}
	if w.B1, err = listToVector(EntryB1, fields[EntryB1]); err != nil {
		return nil, err
	}
	if w.W2, err = listToMatrix(EntryW2, fields[EntryW2]); err != nil {
		return nil, err
	}
	if w.B2, err = listToVector(EntryB2, fields[EntryB2]); err != nil {
		return nil, err
	}

	var m Metadata
	if v, ok := fields[metadataKey]; ok {
		meta := v.GetStructValue()
		if meta == nil {
			return nil, fmt.Errorf("%w: metadata must be an object", ErrMalformed)
		}
		if m, err = parseMetadata(meta); err != nil {
			return nil, err
		}
	} else {
		m = shapeMetadata(w)
	}
	if err := w.Validate(m.plannerDims()); err != nil {
		return nil, err
	}
	return &Checkpoint{Metadata: m, Weights: w}, nil
}

// shapeMetadata reads the network dimensions off w1 (hidden x state) and
// w2 (action x hidden).
func shapeMetadata(w planner.Weights) Metadata {
	hidden, state := w.W1.Dims()
	action, _ := w.W2.Dims()
	return Metadata{StateDim: state, ActionDim: action, HiddenDim: hidden}
}

// checkEntries requires exactly the four weight entries, plus optional
// metadata.
func checkEntries(fields map[string]*structpb.Value) error {
	var missing, extra []string
	for _, name := range entryNames {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range fields {
		if !isEntry(name) && name != metadataKey {
			extra = append(extra, name)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return fmt.Errorf("%w: missing entries %v, unexpected entries %v", linalg.ErrDimensionMismatch, missing, extra)
}

func isEntry(name string) bool {
	for _, e := range entryNames {
		if e == name {
			return true
		}
	}
	return false
}

func parseMetadata(s *structpb.Struct) (Metadata, error) {
	f := s.GetFields()
	var m Metadata

	id, err := uuid.Parse(f["run_id"].GetStringValue())
	if err != nil {
		return m, fmt.Errorf("%w: run_id: %v", ErrMalformed, err)
	}
	created, err := time.Parse(time.RFC3339Nano, f["created_at"].GetStringValue())
	if err != nil {
		return m, fmt.Errorf("%w: created_at: %v", ErrMalformed, err)
	}
	m.RunID, m.CreatedAt = id, created

	for key, dst := range map[string]*int{"state_dim": &m.StateDim, "action_dim": &m.ActionDim, "hidden_dim": &m.HiddenDim} {
		v, ok := f[key].GetKind().(*structpb.Value_NumberValue)
		if !ok || v.NumberValue < 1 || v.NumberValue != float64(int(v.NumberValue)) {
			return m, fmt.Errorf("%w: %s must be a positive integer", ErrMalformed, key)
		}
		*dst = int(v.NumberValue)
	}
	return m, nil
}

func matrixToList(m *mat.Dense) []any {
	r, _ := m.Dims()
	rows := make([]any, r)
	for i := range rows {
		rows[i] = floatsToList(m.RawRowView(i))
	}
	return rows
}

func vectorToList(v *mat.VecDense) []any {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return floatsToList(out)
}

func floatsToList(xs []float64) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func listToFloats(name string, v *structpb.Value) ([]float64, error) {
	list := v.GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return nil, fmt.Errorf("%w: %s must be a non-empty list", ErrMalformed, name)
	}
	out := make([]float64, len(list.GetValues()))
	for i, x := range list.GetValues() {
		n, ok := x.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not a number", ErrMalformed, name, i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func listToVector(name string, v *structpb.Value) (*mat.VecDense, error) {
	xs, err := listToFloats(name, v)
	if err != nil {
		return nil, err
	}
	return mat.NewVecDense(len(xs), xs), nil
}

func listToMatrix(name string, v *structpb.Value) (*mat.Dense, error) {
	list := v.GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return nil, fmt.Errorf("%w: %s must be a non-empty list of rows", ErrMalformed, name)
	}
	var data []float64
	cols := -1
	for i, row := range list.GetValues() {
		xs, err := listToFloats(fmt.Sprintf("%s[%d]", name, i), row)
		if err != nil {
			return nil, err
		}
		if cols >= 0 && len(xs) != cols {
			return nil, fmt.Errorf("%w: %s row %d has %d columns, want %d", linalg.ErrDimensionMismatch, name, i, len(xs), cols)
		}
		cols = len(xs)
		data = append(data, xs...)
	}
	return mat.NewDense(len(list.GetValues()), cols, data), nil
}
