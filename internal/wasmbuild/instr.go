package wasmbuild

const (
	opUnreachable = 0x00
	opEnd         = 0x0B
	opCall        = 0x10
	opDrop        = 0x1A
	opLocalGet    = 0x20
	opI32Load     = 0x28
	opI32Store    = 0x36
	opI32Const    = 0x41
	opI64Const    = 0x42
)

func I32Const(v int32) []byte {
	b := &Buffer{}
	b.AppendByte(opI32Const)
	b.WriteI64(int64(v))
	return b.Bytes
}

func I64Const(v int64) []byte {
	b := &Buffer{}
	b.AppendByte(opI64Const)
	b.WriteI64(v)
	return b.Bytes
}

func Call(idx uint32) []byte {
	b := &Buffer{}
	b.AppendByte(opCall)
	b.WriteU32(idx)
	return b.Bytes
}

func LocalGet(idx uint32) []byte {
	b := &Buffer{}
	b.AppendByte(opLocalGet)
	b.WriteU32(idx)
	return b.Bytes
}

// I32Load loads from the address on the stack plus offset, 4-byte aligned.
func I32Load(offset uint32) []byte {
	b := &Buffer{}
	b.AppendByte(opI32Load)
	b.WriteU32(2)
	b.WriteU32(offset)
	return b.Bytes
}

// I32Store stores the value on the stack at the address below it plus
// offset, 4-byte aligned.
func I32Store(offset uint32) []byte {
	b := &Buffer{}
	b.AppendByte(opI32Store)
	b.WriteU32(2)
	b.WriteU32(offset)
	return b.Bytes
}

func Drop() []byte {
	return []byte{opDrop}
}

func Unreachable() []byte {
	return []byte{opUnreachable}
}
