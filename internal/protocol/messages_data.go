package protocol

import "fmt"

// CreateCharacterSize is the wire size of CreateCharacter.
const CreateCharacterSize = 4 + 4 + WideNameSize

// PublicDataRequest asks for a public data block of a player.
type PublicDataRequest struct {
	PermID  uint32
	BlockID uint32
}

func (*PublicDataRequest) Kind() Kind { return KindPublicDataRequest }

func (m *PublicDataRequest) MarshalBinary() ([]byte, error) {
	return NewWriter(8).WriteUint32(m.PermID).WriteUint32(m.BlockID).Bytes(), nil
}

func (m *PublicDataRequest) UnmarshalBinary(data []byte) error {
	return readPair(data, &m.PermID, &m.BlockID)
}

// SaveDataRequest asks for the save data of a character slot.
type SaveDataRequest struct {
	PermID uint32
	Slot   uint32
}

func (*SaveDataRequest) Kind() Kind { return KindSaveDataRequest }

func (m *SaveDataRequest) MarshalBinary() ([]byte, error) {
	return NewWriter(8).WriteUint32(m.PermID).WriteUint32(m.Slot).Bytes(), nil
}

func (m *SaveDataRequest) UnmarshalBinary(data []byte) error {
	return readPair(data, &m.PermID, &m.Slot)
}

func readPair(data []byte, a, b *uint32) error {
	r := NewReader(data)
	first, err := r.ReadUint32()
	if err != nil {
		return err
	}
	second, err := r.ReadUint32()
	if err != nil {
		return err
	}
	*a, *b = first, second
	return nil
}

// DataBlock is the layout shared by public data and save data transfers:
// owner id, block or slot id, length and the opaque bytes.
type DataBlock struct {
	PermID uint32
	ID     uint32
	Data   []byte
}

func (m *DataBlock) MarshalBinary() ([]byte, error) {
	w := NewWriter(12 + len(m.Data))
	w.WriteUint32(m.PermID)
	w.WriteUint32(m.ID)
	w.WriteUint32(uint32(len(m.Data)))
	w.WriteBytes(m.Data)
	return w.Bytes(), nil
}

func (m *DataBlock) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	permID, err := r.ReadUint32()
	if err != nil {
		return err
	}
	id, err := r.ReadUint32()
	if err != nil {
		return err
	}
	size, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if int64(size) > int64(r.Remaining()) {
		return fmt.Errorf("%w: block declares %d bytes, %d present", ErrShortBuffer, size, r.Remaining())
	}
	blob, _ := r.ReadBytes(int(size))
	m.PermID = permID
	m.ID = id
	m.Data = append([]byte(nil), blob...)
	return nil
}

// PublicData delivers a public data block.
type PublicData struct {
	DataBlock
}

func (*PublicData) Kind() Kind { return KindPublicData }

// ReceivePublicData uploads a public data block from a user.
type ReceivePublicData struct {
	DataBlock
}

func (*ReceivePublicData) Kind() Kind { return KindReceivePublicData }

// SaveData delivers a character save to its requester.
type SaveData struct {
	DataBlock
}

func (*SaveData) Kind() Kind { return KindSaveData }

// SaveDataStore is sent by a game server to persist a character save.
type SaveDataStore struct {
	DataBlock
}

func (*SaveDataStore) Kind() Kind { return KindSaveDataStore }

// CharacterSelect picks the active character slot.
type CharacterSelect struct {
	Slot int32
}

func (*CharacterSelect) Kind() Kind { return KindCharacterSelect }

func (m *CharacterSelect) MarshalBinary() ([]byte, error) {
	return NewWriter(4).WriteInt32(m.Slot).Bytes(), nil
}

func (m *CharacterSelect) UnmarshalBinary(data []byte) error {
	v, err := NewReader(data).ReadInt32()
	if err != nil {
		return err
	}
	m.Slot = v
	return nil
}

// CreateCharacter creates a new character in an empty slot.
type CreateCharacter struct {
	Slot       uint32
	TemplateID uint32
	Name       string
}

func (*CreateCharacter) Kind() Kind { return KindCreateCharacter }

func (m *CreateCharacter) MarshalBinary() ([]byte, error) {
	w := NewWriter(CreateCharacterSize)
	w.WriteUint32(m.Slot)
	w.WriteUint32(m.TemplateID)
	w.WriteBytes(EncodeWide(m.Name, WideNameSize))
	return w.Bytes(), nil
}

func (m *CreateCharacter) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	slot, err := r.ReadUint32()
	if err != nil {
		return err
	}
	template, err := r.ReadUint32()
	if err != nil {
		return err
	}
	name, err := r.ReadBytes(WideNameSize)
	if err != nil {
		return err
	}
	m.Slot = slot
	m.TemplateID = template
	m.Name = DecodeWide(name)
	return nil
}
