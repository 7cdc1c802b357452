package file

import "github.com/rhopfer/cosignd/internal/record"

// LoginCodec adapts package record's tag-line codec to Codec[record.LoginRecord].
type LoginCodec struct{}

func (LoginCodec) Encode(v *record.LoginRecord) []byte { return record.EncodeLogin(v) }

func (LoginCodec) Decode(data []byte) (*record.LoginRecord, error) { return record.DecodeLogin(data) }

// ServiceCodec adapts package record's tag-line codec to
// Codec[record.ServiceBinding].
type ServiceCodec struct{}

func (ServiceCodec) Encode(v *record.ServiceBinding) []byte { return record.EncodeServiceBinding(v) }

func (ServiceCodec) Decode(data []byte) (*record.ServiceBinding, error) {
	return record.DecodeServiceBinding(data)
}

// NewLoginStore returns a Store of LoginRecords rooted at dir.
func NewLoginStore(dir string) *Store[record.LoginRecord] {
	return New[record.LoginRecord](dir, LoginCodec{})
}

// NewServiceStore returns a Store of ServiceBindings rooted at dir. By
// spec.md §4.2, login and service cookies are typically the same working
// directory; callers are free to pass the same dir to both constructors.
func NewServiceStore(dir string) *Store[record.ServiceBinding] {
	return New[record.ServiceBinding](dir, ServiceCodec{})
}
