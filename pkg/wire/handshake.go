package wire

// HelloRequest is sent by the client as the first message on a new
// connection.
type HelloRequest struct {
	ClientInfo      string
	APIVersionMajor uint64
	APIVersionMinor uint64
}

// DecodeHelloRequest decodes a HelloRequest payload, defaulting unset
// version fields the way the client itself defaults them.
func DecodeHelloRequest(data []byte) (HelloRequest, error) {
	msg := HelloRequest{APIVersionMajor: 1, APIVersionMinor: 10}
	err := walkFields(data, func(fieldNum, wireType, offset int) (int, error) {
		switch {
		case fieldNum == 1 && wireType == wireLenDel:
			s, n, err := DecodeString(data, offset)
			if err != nil {
				return 0, err
			}
			msg.ClientInfo = s
			return n, nil
		case fieldNum == 2 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.APIVersionMajor = v
			return n, nil
		case fieldNum == 3 && wireType == wireVarint:
			v, n, err := DecodeVarint(data, offset)
			if err != nil {
				return 0, err
			}
			msg.APIVersionMinor = v
			return n, nil
		}
		return -1, nil
	})
	return msg, err
}

// HelloResponse answers a HelloRequest with the server's own API version
// and identifying strings.
type HelloResponse struct {
	APIVersionMajor uint64
	APIVersionMinor uint64
	ServerInfo      string
	Name            string
}

// Encode serializes the response.
func (m HelloResponse) Encode() []byte {
	var b []byte
	b = appendVarintField(b, 1, m.APIVersionMajor)
	b = appendVarintField(b, 2, m.APIVersionMinor)
	b = appendStringField(b, 3, m.ServerInfo)
	b = appendStringField(b, 4, m.Name)
	return b
}

// ConnectRequest carries the client's attempt to authenticate with a
// shared password.
type ConnectRequest struct {
	Password string
}

// DecodeConnectRequest decodes a ConnectRequest payload.
func DecodeConnectRequest(data []byte) (ConnectRequest, error) {
	var msg ConnectRequest
	err := walkFields(data, func(fieldNum, wireType, offset int) (int, error) {
		if fieldNum == 1 && wireType == wireLenDel {
			s, n, err := DecodeString(data, offset)
			if err != nil {
				return 0, err
			}
			msg.Password = s
			return n, nil
		}
		return -1, nil
	})
	return msg, err
}

// ConnectResponse reports whether the supplied password was accepted.
type ConnectResponse struct {
	InvalidPassword bool
}

// Encode serializes the response.
func (m ConnectResponse) Encode() []byte {
	var b []byte
	b = appendBoolField(b, 1, m.InvalidPassword)
	return b
}

// DeviceInfoResponse reports static identity and capability information
// about the proxy.
type DeviceInfoResponse struct {
	UsesPassword               bool
	Name                       string
	MACAddress                 string
	ESPHomeVersion             string
	CompilationTime            string
	Model                      string
	HasDeepSleep               bool
	ProjectName                string
	ProjectVersion             string
	WebserverPort              uint64
	Manufacturer               string
	FriendlyName               string
	BluetoothProxyFeatureFlags uint64
	BluetoothMACAddress        string
}

// Encode serializes the response. Fields are emitted in ascending field
// number order, per spec.md §4.1's encoder invariant.
func (m DeviceInfoResponse) Encode() []byte {
	var b []byte
	b = appendBoolField(b, 1, m.UsesPassword)
	b = appendStringField(b, 2, m.Name)
	b = appendStringField(b, 3, m.MACAddress)
	b = appendStringField(b, 4, m.ESPHomeVersion)
	b = appendStringField(b, 5, m.CompilationTime)
	b = appendStringField(b, 6, m.Model)
	b = appendBoolField(b, 7, m.HasDeepSleep)
	b = appendStringField(b, 8, m.ProjectName)
	b = appendStringField(b, 9, m.ProjectVersion)
	b = appendVarintField(b, 10, m.WebserverPort)
	b = appendStringField(b, 12, m.Manufacturer)
	b = appendStringField(b, 13, m.FriendlyName)
	b = appendVarintField(b, 15, m.BluetoothProxyFeatureFlags)
	b = appendStringField(b, 18, m.BluetoothMACAddress)
	return b
}

// ListEntitiesDoneResponse terminates the (always-empty) entity listing;
// this proxy exposes no native entities.
type ListEntitiesDoneResponse struct{}

// Encode serializes the response; always an empty payload.
func (ListEntitiesDoneResponse) Encode() []byte { return nil }

// PingResponse is an empty acknowledgement of a PingRequest.
type PingResponse struct{}

// Encode serializes the response; always an empty payload.
func (PingResponse) Encode() []byte { return nil }
