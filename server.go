package gatt

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/XC-/applgatt/att"
	"github.com/XC-/applgatt/gap"
)

var (
	// ErrServerInitialized is returned by AddService once the attribute
	// database has been built.
	ErrServerInitialized = errors.New("server already initialized")

	// ErrServerClosed is returned by Serve after a call to Close.
	ErrServerClosed = errors.New("server closed")
)

// A Listener accepts ATT bearers from connecting centrals.
type Listener interface {
	Accept() (Bearer, error)
	Close() error
	Addr() net.Addr
}

// A Server is a GATT server. Services are added before Init; once
// initialized, the attribute database is fixed and the server may serve
// any number of bearers concurrently.
type Server struct {
	name       string
	appearance uint16
	connParams gap.ConnParams
	maxMTU     int
	log        logrus.FieldLogger
	connect    func(c Conn)
	disconnect func(c Conn)

	mu        sync.Mutex
	services  []*Service
	attrs     *attrRange
	listeners map[Listener]struct{}
	conns     map[*conn]struct{}
	closed    bool
}

// NewServer creates a Server with the specified options.
// See also Server.Option.
// See http://dave.cheney.net/2014/10/17/functional-options-for-friendly-apis for more discussion.
func NewServer(opts ...Option) *Server {
	cp, _ := gap.Conn(gap.PresetDefault)
	s := &Server{
		name:       "applgatt",
		appearance: gapAppearanceGenericComputer,
		connParams: cp,
		maxMTU:     att.MaxMTU,
		log:        logrus.StandardLogger(),
		listeners:  make(map[Listener]struct{}),
		conns:      make(map[*conn]struct{}),
	}
	s.Option(opts...)
	return s
}

// AddService registers a new Service with the server.
// All services must be added before the server is initialized.
func (s *Server) AddService(svc *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs != nil {
		return ErrServerInitialized
	}
	s.services = append(s.services, svc)
	return nil
}

// Services returns the services of the server, the Generic Access and
// Generic Attribute services included once the server is initialized.
func (s *Server) Services() []*Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Service(nil), s.services...)
}

// Init builds the attribute database. Handles start at 1 with the Generic
// Access and Generic Attribute services, followed by the added services in
// order. Init is called by Serve and ServeBearer; calling it again has no
// effect.
func (s *Server) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.attrs != nil {
		return nil
	}
	if err := s.connParams.Validate(); err != nil {
		return errors.Wrap(err, "preferred connection parameters")
	}
	s.services = append(defaultServices(s.name, s.appearance, s.connParams), s.services...)
	s.attrs = generateAttrs(s.services, 1) // ble handles start at 1
	s.log.WithFields(logrus.Fields{
		"services":   len(s.services),
		"attributes": len(s.attrs.aa),
	}).Info("attribute database initialized")
	return nil
}

// Serve accepts bearers from l and serves each in its own goroutine.
// Serve always returns a non-nil error; after Close it is ErrServerClosed.
func (s *Server) Serve(l Listener) error {
	if err := s.Init(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.listeners[l] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
	}()

	s.log.WithField("addr", addrString(l.Addr())).Info("serving")
	for {
		b, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrServerClosed
			}
			return errors.Wrap(err, "accept")
		}
		go s.ServeBearer(b)
	}
}

// ServeBearer serves ATT requests arriving on b until b is closed.
func (s *Server) ServeBearer(b Bearer) {
	if err := s.Init(); err != nil {
		s.log.WithError(err).Error("cannot serve")
		b.Close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		b.Close()
		return
	}
	c := newConn(b, s.attrs, uint16(s.maxMTU), s.log)
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.log.Info("connected")
	if s.connect != nil {
		s.connect(c)
	}
	c.loop()
	c.log.Info("disconnected")
	if s.disconnect != nil {
		s.disconnect(c)
	}

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Close stops a Server. Listeners and connections are closed.
// Servers are single-shot; a closed server cannot be restarted.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.closed = true
	ll := make([]Listener, 0, len(s.listeners))
	for l := range s.listeners {
		ll = append(ll, l)
	}
	cc := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		cc = append(cc, c)
	}
	s.mu.Unlock()

	var err error
	for _, l := range ll {
		if e := l.Close(); e != nil && err == nil {
			err = e
		}
	}
	for _, c := range cc {
		c.Close()
	}
	return err
}

// Option is a server option.
// It returns an option to restore the last arg's previous value.
type Option func(*Server) Option

// Option sets the options specified.
// It returns an option to restore the last arg's previous value.
// Options that shape the attribute database only take effect before Init;
// they are best used with NewServer instead of Option.
// See http://commandcenter.blogspot.com.au/2014/01/self-referential-functions-and-design.html for more discussion.
func (s *Server) Option(opts ...Option) (prev Option) {
	for _, opt := range opts {
		prev = opt(s)
	}
	return prev
}

// Name sets the device name, exposed via the Generic Access Service (0x1800).
func Name(n string) Option {
	return func(s *Server) Option {
		prev := s.name
		s.name = n
		return Name(prev)
	}
}

// Appearance sets the appearance value exposed via the Generic Access Service.
func Appearance(a uint16) Option {
	return func(s *Server) Option {
		prev := s.appearance
		s.appearance = a
		return Appearance(prev)
	}
}

// ConnParams sets the Peripheral Preferred Connection Parameters exposed
// via the Generic Access Service.
func ConnParams(p gap.ConnParams) Option {
	return func(s *Server) Option {
		prev := s.connParams
		s.connParams = p
		return ConnParams(prev)
	}
}

// MaxMTU sets the receive MTU the server announces in an MTU exchange.
// Values are clamped to [att.DefaultMTU, att.MaxMTU].
func MaxMTU(mtu int) Option {
	return func(s *Server) Option {
		prev := s.maxMTU
		switch {
		case mtu < att.DefaultMTU:
			mtu = att.DefaultMTU
		case mtu > att.MaxMTU:
			mtu = att.MaxMTU
		}
		s.maxMTU = mtu
		return MaxMTU(prev)
	}
}

// Logger sets the logger of the server and its connections.
func Logger(l logrus.FieldLogger) Option {
	return func(s *Server) Option {
		prev := s.log
		s.log = l
		return Logger(prev)
	}
}

// Connect sets a function to be called when a device connects to the server.
func Connect(f func(c Conn)) Option {
	return func(s *Server) Option {
		prev := s.connect
		s.connect = f
		return Connect(prev)
	}
}

// Disconnect sets a function to be called when a device disconnects from the server.
func Disconnect(f func(c Conn)) Option {
	return func(s *Server) Option {
		prev := s.disconnect
		s.disconnect = f
		return Disconnect(prev)
	}
}
