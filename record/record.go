package record

import (
	"encoding/binary"

	"burrow-db/pagefile"
)

// ID locates one tuple inside a relation heap file.
type ID struct {
	PageNo pagefile.PageID
	SlotNo uint16
}

// IDSize is the serialized width of an ID: pageNo (4) + slotNo (2) + padding (2).
const IDSize = 8

func PutID(buffer []byte, rid ID) {
	binary.LittleEndian.PutUint32(buffer[0:4], uint32(rid.PageNo))
	binary.LittleEndian.PutUint16(buffer[4:6], rid.SlotNo)
	buffer[6] = 0
	buffer[7] = 0
}

func GetID(buffer []byte) ID {
	return ID{
		PageNo: pagefile.PageID(binary.LittleEndian.Uint32(buffer[0:4])),
		SlotNo: binary.LittleEndian.Uint16(buffer[4:6]),
	}
}
