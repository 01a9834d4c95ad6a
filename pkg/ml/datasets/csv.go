package datasets

import (
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FromCSV reads a CSV file with a header and only numeric columns into an InMemoryDataset.
//
// labelColumn is the name of the column with the labels, all other columns are used as input features, in
// the order they appear in the file. If labelColumn is empty, the last column is used.
func FromCSV(path, labelColumn string) (*InMemoryDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open CSV dataset %q", path)
	}
	defer func() { _ = f.Close() }()
	mds, err := ReadCSV(filepath.Base(path), f, labelColumn)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", path)
	}
	klog.V(1).Infof("Read %d examples with %d features from %q", mds.NumExamples(), mds.NumFeatures(), path)
	return mds, nil
}

// ReadCSV reads the CSV contents from r, see FromCSV.
func ReadCSV(name string, r io.Reader, labelColumn string) (*InMemoryDataset, error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true), dataframe.DetectTypes(true))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse CSV")
	}
	names := df.Names()
	if len(names) < 2 {
		return nil, errors.Errorf("CSV needs at least 2 columns (features and label), got %d", len(names))
	}
	if labelColumn == "" {
		labelColumn = names[len(names)-1]
	}
	if !slices.Contains(names, labelColumn) {
		return nil, errors.Errorf("label column %q not found in CSV columns %v", labelColumn, names)
	}

	columns := make(map[string][]float64, len(names))
	for ii, dType := range df.Types() {
		if dType != series.Float && dType != series.Int {
			return nil, errors.Errorf("CSV column %q is of type %s, only numeric columns are supported",
				names[ii], dType)
		}
		col := df.Col(names[ii])
		if col.HasNaN() {
			return nil, errors.Errorf("CSV column %q has missing values", names[ii])
		}
		columns[names[ii]] = col.Float()
	}

	numRows := df.Nrow()
	inputs := make([][]float64, numRows)
	for row := range inputs {
		inputs[row] = make([]float64, 0, len(names)-1)
		for _, name := range names {
			if name != labelColumn {
				inputs[row] = append(inputs[row], columns[name][row])
			}
		}
	}
	return InMemory(name, inputs, columns[labelColumn])
}
