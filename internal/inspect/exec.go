package inspect

// Magic numbers of executable formats blocked on FTP transfers.
var executableSignatures = [][]byte{
	{0x4D, 0x5A},             // Windows PE ("MZ")
	{0x7F, 0x45, 0x4C, 0x46}, // ELF
	{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O 32-bit
	{0xFE, 0xED, 0xFA, 0xCF}, // Mach-O 64-bit
}

// LooksExecutable reports whether chunk starts with an executable signature.
//
// Only the overlap of chunk and signature is compared, so a chunk shorter
// than a signature matches when every byte it has agrees. An empty chunk
// therefore matches; the relay never inspects one, since a zero-byte read is
// end of stream.
func LooksExecutable(chunk []byte) bool {
	for _, sig := range executableSignatures {
		if hasPartialPrefix(chunk, sig) {
			return true
		}
	}
	return false
}

func hasPartialPrefix(b, prefix []byte) bool {
	n := min(len(b), len(prefix))
	for i := 0; i < n; i++ {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
