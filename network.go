package cnn_go

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Model Convolutional classifier for multichannel windows.
//
// Blocks - ordered convolutional blocks built from configuration
// Head - flatten followed by fully-connected layers
// params - every learnable tensor and batch normalization buffer
//
type Model struct {
	Name   string
	Blocks []*ConvBlock
	Head   []*Layer

	cfg        ModelConfig
	params     *Params
	training   bool
	dropoutRng *rand.Rand
	programs   map[programKey]*program
}

// NewModel Builds model from configuration. Parameters are initialized from rs.Init, dropout masks are drawn from rs.Dropout.
func NewModel(cfg ModelConfig, rs *RandSource) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Can't build model")
	}
	if rs == nil {
		return nil, fmt.Errorf("Can't build model: random source is nil")
	}
	activation, err := ActivationByName(cfg.Activation, cfg.LeakySlope)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build model")
	}
	m := &Model{
		Name:       "cnn",
		Blocks:     buildBlocks(cfg, activation),
		Head:       buildHead(cfg, activation),
		cfg:        cfg,
		training:   true,
		dropoutRng: rs.Dropout,
		programs:   make(map[programKey]*program),
	}
	m.params, err = initParams(m.Layers(), rs.Init)
	if err != nil {
		return nil, errors.Wrap(err, "Can't initialize parameters")
	}
	return m, nil
}

// Config Returns architecture the model was built with
func (m *Model) Config() ModelConfig {
	return m.cfg
}

// Layers Returns every layer in application order
func (m *Model) Layers() []*Layer {
	layers := make([]*Layer, 0, 4*len(m.Blocks)+len(m.Head))
	for _, b := range m.Blocks {
		layers = append(layers, b.Layers()...)
	}
	return append(layers, m.Head...)
}

// Params Returns parameter store
func (m *Model) Params() *Params {
	return m.params
}

// Train Switches to training mode: dropout is active, batch normalization uses batch statistics
func (m *Model) Train() { m.training = true }

// Eval Switches to evaluation mode: dropout is disabled, batch normalization uses running statistics
func (m *Model) Eval() { m.training = false }

// Training Reports current mode
func (m *Model) Training() bool { return m.training }

// FlattenSize Declared input size of the first fully-connected layer
func (m *Model) FlattenSize() int {
	return m.cfg.DeclaredFlattenSize()
}

// NumParameters Number of learnable scalars
func (m *Model) NumParameters() int {
	total := 0
	for _, p := range m.params.Learnables() {
		total += p.Value.Shape().TotalSize()
	}
	return total
}

// L1Loss Sum of absolute values of every learnable parameter.
// The value is not part of the training objective unless TrainConfig.L1Lambda is positive.
func (m *Model) L1Loss() float64 {
	return m.params.l1()
}

// Forward Computes logits of shape (batch, num_classes) for input of shape (batch, in_channels, in_length).
// In training mode running statistics of batch normalization are updated as a side effect.
func (m *Model) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	prog, err := m.program(x.Shape()[0], m.training, nil, 0)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't feedforward", m.Name))
	}
	if err := prog.run(x, nil); err != nil {
		prog.reset()
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't run forward pass", m.Name))
	}
	defer prog.reset()
	logits, err := prog.logitsDense()
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't read logits", m.Name))
	}
	if err := prog.updateRunningStats(); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't update running statistics", m.Name))
	}
	return logits, nil
}

// StateDict Returns copy of every parameter and buffer keyed by name
func (m *Model) StateDict() map[string]*tensor.Dense {
	state := make(map[string]*tensor.Dense, len(m.params.All()))
	for _, p := range m.params.All() {
		state[p.Name] = p.Value.Clone().(*tensor.Dense)
	}
	return state
}

// LoadStateDict Copies provided values into parameters. Names and shapes must match exactly.
func (m *Model) LoadStateDict(state map[string]*tensor.Dense) error {
	if len(state) != len(m.params.All()) {
		return fmt.Errorf("state has %d tensors, model has %d", len(state), len(m.params.All()))
	}
	for _, p := range m.params.All() {
		v, ok := state[p.Name]
		if !ok || v == nil {
			return fmt.Errorf("state has no tensor '%s'", p.Name)
		}
		if !v.Shape().Eq(p.Value.Shape()) {
			return fmt.Errorf("tensor '%s' has shape %v, model expects %v", p.Name, v.Shape(), p.Value.Shape())
		}
		src, ok := v.Data().([]float64)
		if !ok {
			return fmt.Errorf("tensor '%s' has dtype %v, model expects float64", p.Name, v.Dtype())
		}
		copy(p.Data(), src)
	}
	return nil
}

func (m *Model) checkInput(x *tensor.Dense) error {
	if x == nil {
		return fmt.Errorf("[%s] input is nil", m.Name)
	}
	shp := x.Shape()
	if shp.Dims() != 3 {
		return fmt.Errorf("[%s] input must have shape (batch, %d, %d), got %v", m.Name, m.cfg.InChannels, m.cfg.InLength, shp)
	}
	if shp[0] <= 0 || shp[1] != m.cfg.InChannels || shp[2] != m.cfg.InLength {
		return fmt.Errorf("[%s] input must have shape (batch, %d, %d), got %v", m.Name, m.cfg.InChannels, m.cfg.InLength, shp)
	}
	if _, ok := x.Data().([]float64); !ok {
		return fmt.Errorf("[%s] input must be float64, got %v", m.Name, x.Dtype())
	}
	return nil
}

// program Returns cached compiled graph for provided batch size and mode
func (m *Model) program(batchSize int, training bool, criterion Criterion, l1Lambda float64) (*program, error) {
	key := programKey{batchSize: batchSize, training: training, criterion: criterion, l1Lambda: l1Lambda}
	if p, ok := m.programs[key]; ok {
		return p, nil
	}
	p, err := m.compile(batchSize, training, criterion, l1Lambda)
	if err != nil {
		return nil, err
	}
	m.programs[key] = p
	return p, nil
}

// Close Releases every compiled graph
func (m *Model) Close() {
	for k, p := range m.programs {
		p.close()
		delete(m.programs, k)
	}
}

// dropoutMask Inverted dropout mask: zeros with probability prob, 1/(1-prob) otherwise
func (m *Model) dropoutMask(shape tensor.Shape, prob float64) *tensor.Dense {
	data := make([]float64, shape.TotalSize())
	keep := 1.0 / (1.0 - prob)
	for i := range data {
		if m.dropoutRng.Float64() >= prob {
			data[i] = keep
		}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}
