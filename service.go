package gatt

// A Service is a BLE service.
// Calls to AddCharacteristic must occur before the
// service is used by a server.
type Service struct {
	uuid  UUID
	chars []*Characteristic

	h    uint16
	endh uint16
}

// NewService creates a primary service.
func NewService(u UUID) *Service {
	return &Service{uuid: u}
}

// AddCharacteristic adds a characteristic to a service.
// AddCharacteristic panics if the service already contains
// another characteristic with the same UUID.
func (s *Service) AddCharacteristic(u UUID) *Characteristic {
	for _, char := range s.chars {
		if char.uuid.Equal(u) {
			panic("service already contains a characteristic with uuid " + u.String())
		}
	}

	char := &Characteristic{
		svc:  s,
		uuid: u,
	}
	s.chars = append(s.chars, char)
	return char
}

// UUID returns the service's UUID.
func (s *Service) UUID() UUID { return s.uuid }

// Characteristics returns the service's characteristics.
func (s *Service) Characteristics() []*Characteristic { return s.chars }

// Handle returns the handle of the service declaration.
func (s *Service) Handle() uint16 { return s.h }

// EndHandle returns the last handle of the service.
func (s *Service) EndHandle() uint16 { return s.endh }

func (s *Service) String() string {
	if n := s.uuid.Name(); n != "" {
		return n
	}
	return s.uuid.String()
}
