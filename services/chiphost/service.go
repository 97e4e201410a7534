// Package chiphost turns the retained config/diagram document into live chips
// on a simulated host and reports per-chip status on the bus.
package chiphost

import (
	"context"

	"touchchip-go/bus"
	"touchchip-go/chip"
	"touchchip-go/errcode"
	"touchchip-go/services/chiphost/config"
	"touchchip-go/sim"
	"touchchip-go/x/fmtx"
)

var topicConfigDiagram = bus.T("config", "diagram")

// Status payloads on chip/<id>/status.
const (
	StatusReady = "ready"
	StatusError = "error"
)

// ChipStatus is published retained on chip/<id>/status.
type ChipStatus struct {
	State string `json:"state"`
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"` // from the part's chip.json
	Bus   string `json:"bus,omitempty"`
	Code  string `json:"code,omitempty"`
}

type Service struct {
	host  *sim.Host
	built map[string]bool
	done  chan struct{}
}

func New(host *sim.Host) *Service {
	return &Service{host: host, built: map[string]bool{}, done: make(chan struct{})}
}

// Done is closed when the service loop exits.
func (s *Service) Done() <-chan struct{} { return s.done }

// apply builds every chip in d not built yet. Chips dropped from a later
// diagram stay alive; the host has no teardown for a single chip.
func (s *Service) apply(conn *bus.Connection, d config.Diagram) {
	for _, c := range d.Chips {
		if s.built[c.ID] {
			continue
		}
		st := ChipStatus{State: StatusReady, Type: c.Type, Bus: c.Bus}
		def, err := definition(c)
		if err == nil {
			st.Name = def.Name
			_, err = s.host.Build(c.ID, c.Type, c.Bus, c.Attrs)
		}
		if err != nil {
			st.State = StatusError
			st.Code = string(errcode.Of(err))
			fmtx.Warn("chiphost: %s: %v", c.ID, err)
		} else {
			s.built[c.ID] = true
			fmtx.Info("chiphost: %s (%s) on %s ready", c.ID, c.Type, c.Bus)
		}
		conn.Publish(conn.NewMessage(bus.T(sim.TopicChip, c.ID, "status"), st, true))
	}
}

// definition checks the part's chip.json, when its builder ships one. A chip
// placed on an I2C bus must expose SDA and SCL.
func definition(c config.Chip) (config.Definition, error) {
	b, ok := chip.Lookup(c.Type)
	if !ok {
		return config.Definition{}, errcode.New(errcode.UnknownChip, "build", c.Type)
	}
	d, ok := b.(chip.Definer)
	if !ok {
		return config.Definition{Name: c.Type}, nil
	}
	def, err := config.ParseDefinition(d.Definition())
	if err != nil {
		return config.Definition{}, err
	}
	if c.Bus != "" && (!def.HasPin("SDA") || !def.HasPin("SCL")) {
		return config.Definition{}, errcode.New(errcode.InvalidParams, "chip_def", def.Name+" has no I2C pins")
	}
	return def, nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, cfgSub *bus.Subscription) {
	defer close(s.done)
	defer conn.Unsubscribe(cfgSub)

	for {
		select {
		case <-ctx.Done():
			fmtx.Info("chiphost: stopping")
			return
		case msg := <-cfgSub.Channel():
			d, err := config.FromPayload(msg.Payload)
			if err != nil {
				fmtx.Warn("chiphost: bad diagram: %v", err)
				continue
			}
			s.apply(conn, d)
		}
	}
}

// Start runs the service until ctx is cancelled.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn, conn.Subscribe(topicConfigDiagram))
	return nil
}
