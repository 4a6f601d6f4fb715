package volume

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/henghuang/nifti"
	"github.com/klauspost/compress/gzip"

	"github.com/Onset-lab/nii2dcm/internal/geometry"
)

// VolumeLoadError reports a source volume that could not be read.
type VolumeLoadError struct {
	Path string
	Err  error
}

func (e *VolumeLoadError) Error() string {
	return fmt.Sprintf("load volume %s: %v", e.Path, e.Err)
}

func (e *VolumeLoadError) Unwrap() error { return e.Err }

// Reader supplies a Volume for a source path.
type Reader interface {
	Read(path string) (*Volume, error)
}

// NiftiReader reads .nii and .nii.gz files. Volumes are in RAS.
type NiftiReader struct{}

// Read implements Reader.
func (NiftiReader) Read(path string) (*Volume, error) {
	return Load(path)
}

// Load reads a single-file NIfTI-1 volume and applies scl_slope/scl_inter.
// Every failure is a *VolumeLoadError.
func Load(path string) (*Volume, error) {
	v, err := load(path)
	if err != nil {
		return nil, &VolumeLoadError{Path: path, Err: err}
	}
	return v, nil
}

func load(path string) (*Volume, error) {
	hdr, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	if string(hdr.Magic[:3]) != "n+1" {
		return nil, errors.New("two-file NIfTI (.hdr/.img) is not supported")
	}
	st, err := hdr.sampleType()
	if err != nil {
		return nil, err
	}
	dims, err := hdr.Dims()
	if err != nil {
		return nil, err
	}

	var data []float64
	if st.fromLibrary != nil {
		data, err = readWithLibrary(path, dims, st)
	} else {
		data, err = readRaw(path, int(hdr.VoxOffset), dims, st)
	}
	if err != nil {
		return nil, err
	}
	if slope, inter, ok := hdr.Scaling(); ok {
		for n, s := range data {
			data[n] = s*slope + inter
		}
	}

	v, err := New(dims, data, hdr.Affine(), geometry.RAS)
	if err != nil {
		return nil, err
	}
	v.source = path
	return v, nil
}

// readWithLibrary reads samples through nifti's GetAt, turning its panics
// into errors.
func readWithLibrary(path string, dims [4]int, st sampleType) (data []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read samples: %v", r)
		}
	}()
	var img nifti.Nifti1Image
	img.LoadImage(path, true)
	if got := img.GetDims(); got[0] != dims[0] || got[1] != dims[1] || got[2] != dims[2] {
		return nil, fmt.Errorf("image dimensions %v disagree with header %v", got, dims)
	}

	data = make([]float64, 0, dims[0]*dims[1]*dims[2]*dims[3])
	for t := 0; t < dims[3]; t++ {
		for k := 0; k < dims[2]; k++ {
			for j := 0; j < dims[1]; j++ {
				for i := 0; i < dims[0]; i++ {
					data = append(data, st.fromLibrary(img.GetAt(i, j, k, t)))
				}
			}
		}
	}
	return data, nil
}

// readRaw decodes samples the nifti library cannot represent exactly.
func readRaw(path string, offset int, dims [4]int, st sampleType) ([]float64, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}
	n := dims[0] * dims[1] * dims[2] * dims[3]
	if offset < headerSize || len(raw) < offset+n*st.size {
		return nil, fmt.Errorf("file holds %d bytes past vox_offset %d, need %d", max(len(raw)-offset, 0), offset, n*st.size)
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = st.decode(raw[offset+i*st.size:])
	}
	return data, nil
}

// readFile returns the contents of path, decompressing gzip streams.
func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReader(f)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer func() { _ = zr.Close() }()
		return io.ReadAll(zr)
	}
	return io.ReadAll(br)
}
