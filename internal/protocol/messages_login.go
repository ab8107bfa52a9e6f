package protocol

// Field widths shared by several messages.
const (
	NameSize       = 32
	PasswordSize   = 32
	ServerNameSize = 80
	SenderNameSize = 64
	WideNameSize   = 64

	ClientLoginRequestSize = NameSize + PasswordSize + 4
	LoginResultSize        = 4 + 4 + NameSize
)

// ClientLoginRequest is sent by a game client to log in as a User.
type ClientLoginRequest struct {
	Name          string
	Password      string
	ClientVersion uint32
}

func (*ClientLoginRequest) Kind() Kind { return KindClientLoginRequest }

func (m *ClientLoginRequest) MarshalBinary() ([]byte, error) {
	w := NewWriter(ClientLoginRequestSize)
	w.WriteBytes(EncodeText(m.Name, NameSize))
	w.WriteBytes(Obfuscate(EncodeText(m.Password, PasswordSize)))
	w.WriteUint32(m.ClientVersion)
	return w.Bytes(), nil
}

func (m *ClientLoginRequest) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	name, err := r.ReadBytes(NameSize)
	if err != nil {
		return err
	}
	password, err := r.ReadBytes(PasswordSize)
	if err != nil {
		return err
	}
	version, err := r.ReadUint32()
	if err != nil {
		return err
	}
	m.Name = DecodeText(name)
	m.Password = DecodeText(Deobfuscate(password))
	m.ClientVersion = version
	return nil
}

// LoginResult answers a ClientLoginRequest.
type LoginResult struct {
	Result      Result
	PermID      uint32
	AccountName string
}

func (*LoginResult) Kind() Kind { return KindLoginResult }

func (m *LoginResult) MarshalBinary() ([]byte, error) {
	w := NewWriter(LoginResultSize)
	w.WriteUint32(uint32(m.Result))
	w.WriteUint32(m.PermID)
	w.WriteBytes(EncodeText(m.AccountName, NameSize))
	return w.Bytes(), nil
}

func (m *LoginResult) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	result, err := r.ReadUint32()
	if err != nil {
		return err
	}
	permID, err := r.ReadUint32()
	if err != nil {
		return err
	}
	name, err := r.ReadBytes(NameSize)
	if err != nil {
		return err
	}
	m.Result = Result(result)
	m.PermID = permID
	m.AccountName = DecodeText(name)
	return nil
}

// ServerLoginRequest is sent by a game server to register itself.
type ServerLoginRequest struct {
	ServerInfo
}

func (*ServerLoginRequest) Kind() Kind { return KindServerLoginRequest }

// ServerLoginResponse tells a game server its externally visible address.
type ServerLoginResponse struct {
	ExternalIP [4]byte
}

func (*ServerLoginResponse) Kind() Kind { return KindServerLoginResponse }

func (m *ServerLoginResponse) MarshalBinary() ([]byte, error) {
	return append([]byte(nil), m.ExternalIP[:]...), nil
}

func (m *ServerLoginResponse) UnmarshalBinary(data []byte) error {
	ip, err := NewReader(data).ReadBytes(4)
	if err != nil {
		return err
	}
	copy(m.ExternalIP[:], ip)
	return nil
}
