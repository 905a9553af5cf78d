package model

// Upload error codes, numbered like the classic CGI upload errors.
const (
	UploadOK        = 0
	UploadIniSize   = 1
	UploadFormSize  = 2
	UploadPartial   = 3
	UploadNoFile    = 4
	UploadNoTmpDir  = 6
	UploadCantWrite = 7
)

// UploadedFile describes one file received in a multipart request.
type UploadedFile struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	TmpName string `json:"tmp_name" yaml:"tmp_name"`
	Error   int    `json:"error" yaml:"error"`
	Size    int64  `json:"size" yaml:"size"`
}

// FileEntry is the host-delivered shape of one upload field: parallel slices
// indexed by file. Single-file fields carry one element and Multiple=false.
type FileEntry struct {
	Name     []string
	Type     []string
	TmpName  []string
	Error    []int
	Size     []int64
	Multiple bool
}

// SingleFile builds the entry for a field that carries exactly one file.
func SingleFile(f UploadedFile) FileEntry {
	return FileEntry{
		Name:    []string{f.Name},
		Type:    []string{f.Type},
		TmpName: []string{f.TmpName},
		Error:   []int{f.Error},
		Size:    []int64{f.Size},
	}
}

// MultipleFiles builds the parallel-slice entry for a field carrying files.
func MultipleFiles(files ...UploadedFile) FileEntry {
	e := FileEntry{Multiple: true}
	for _, f := range files {
		e.Name = append(e.Name, f.Name)
		e.Type = append(e.Type, f.Type)
		e.TmpName = append(e.TmpName, f.TmpName)
		e.Error = append(e.Error, f.Error)
		e.Size = append(e.Size, f.Size)
	}
	return e
}

// File returns the i-th descriptor. Missing parallel values are zero.
func (e FileEntry) File(i int) UploadedFile {
	var f UploadedFile
	if i < len(e.Name) {
		f.Name = e.Name[i]
	}
	if i < len(e.Type) {
		f.Type = e.Type[i]
	}
	if i < len(e.TmpName) {
		f.TmpName = e.TmpName[i]
	}
	if i < len(e.Error) {
		f.Error = e.Error[i]
	}
	if i < len(e.Size) {
		f.Size = e.Size[i]
	}
	return f
}

// Len returns the number of files described by the entry.
func (e FileEntry) Len() int { return len(e.Name) }
