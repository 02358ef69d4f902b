// Package metrics scores multi-label predictions against ground truth.
package metrics

import (
	"errors"
	"fmt"
	"strings"
)

// Score is precision, recall and f1 of a label or an average, Support is the number of true positives expected
type Score struct {
	Name      string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report is a per-label classification report with averages
type Report struct {
	Labels   []Score
	Micro    Score
	Macro    Score
	Weighted Score
	Samples  Score
}

// Classification builds a report for row-major truth and predicted 0/1 matrices with a column per name.
// Undefined ratios (zero division) are reported as 0.
func Classification(truth, pred [][]int, names []string) (Report, error) {
	if err := checkShape(truth, pred, len(names)); err != nil {
		return Report{}, err
	}

	rep := Report{Labels: make([]Score, len(names))}
	var tpAll, fpAll, fnAll, supportAll int
	for j, name := range names {
		var tp, fp, fn int
		for i := range truth {
			switch {
			case truth[i][j] == 1 && pred[i][j] == 1:
				tp++
			case truth[i][j] == 0 && pred[i][j] == 1:
				fp++
			case truth[i][j] == 1 && pred[i][j] == 0:
				fn++
			}
		}
		s := score(name, tp, fp, fn)
		rep.Labels[j] = s
		tpAll, fpAll, fnAll, supportAll = tpAll+tp, fpAll+fp, fnAll+fn, supportAll+s.Support
	}

	rep.Micro = score("micro avg", tpAll, fpAll, fnAll)
	rep.Macro = Score{Name: "macro avg", Support: supportAll}
	rep.Weighted = Score{Name: "weighted avg", Support: supportAll}
	for _, s := range rep.Labels {
		n := float64(len(rep.Labels))
		rep.Macro.Precision += s.Precision / n
		rep.Macro.Recall += s.Recall / n
		rep.Macro.F1 += s.F1 / n
		if supportAll > 0 {
			w := float64(s.Support) / float64(supportAll)
			rep.Weighted.Precision += s.Precision * w
			rep.Weighted.Recall += s.Recall * w
			rep.Weighted.F1 += s.F1 * w
		}
	}

	rep.Samples = Score{Name: "samples avg", Support: supportAll}
	if len(truth) > 0 {
		n := float64(len(truth))
		for i := range truth {
			var inter, t, p int
			for j := range truth[i] {
				t += truth[i][j]
				p += pred[i][j]
				inter += truth[i][j] * pred[i][j]
			}
			rep.Samples.Precision += ratio(inter, p) / n
			rep.Samples.Recall += ratio(inter, t) / n
			rep.Samples.F1 += ratio(2*inter, t+p) / n
		}
	}
	return rep, nil
}

// SubsetAccuracy returns fraction of rows where all predicted labels match the truth exactly
func SubsetAccuracy(truth, pred [][]int) (float64, error) {
	if len(truth) == 0 {
		return 0, errors.New("no rows to score")
	}
	width := len(truth[0])
	if err := checkShape(truth, pred, width); err != nil {
		return 0, err
	}
	match := 0
	for i := range truth {
		same := true
		for j := range truth[i] {
			if truth[i][j] != pred[i][j] {
				same = false
				break
			}
		}
		if same {
			match++
		}
	}
	return float64(match) / float64(len(truth)), nil
}

// String renders the report as an aligned text table
func (r Report) String() string {
	width := len("weighted avg")
	for _, s := range r.Labels {
		width = max(width, len(s.Name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s  %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	row := func(s Score) {
		fmt.Fprintf(&b, "%*s  %9.2f %9.2f %9.2f %9d\n", width, s.Name, s.Precision, s.Recall, s.F1, s.Support)
	}
	for _, s := range r.Labels {
		row(s)
	}
	b.WriteString("\n")
	for _, s := range []Score{r.Micro, r.Macro, r.Weighted, r.Samples} {
		row(s)
	}
	return b.String()
}

func score(name string, tp, fp, fn int) Score {
	s := Score{Name: name, Support: tp + fn}
	s.Precision = ratio(tp, tp+fp)
	s.Recall = ratio(tp, tp+fn)
	s.F1 = ratio(2*tp, 2*tp+fp+fn)
	return s
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func checkShape(truth, pred [][]int, width int) error {
	if len(truth) != len(pred) {
		return fmt.Errorf("%d truth rows, %d predicted rows", len(truth), len(pred))
	}
	for i := range truth {
		if len(truth[i]) != width || len(pred[i]) != width {
			return fmt.Errorf("row %d has %d truth and %d predicted columns, expected %d", i, len(truth[i]), len(pred[i]), width)
		}
	}
	return nil
}
