package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/jessevdk/go-flags"
	"github.com/oklog/ulid/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/disaster-response/app/storage"
	"github.com/umputun/disaster-response/app/storage/engine"
	"github.com/umputun/disaster-response/lib/corpus"
	"github.com/umputun/disaster-response/lib/forest"
	"github.com/umputun/disaster-response/lib/metrics"
	"github.com/umputun/disaster-response/lib/modelfile"
	"github.com/umputun/disaster-response/lib/pipeline"
	"github.com/umputun/disaster-response/lib/search"
	"github.com/umputun/disaster-response/lib/textnorm"
)

type options struct {
	Positional struct {
		DatabaseFile string `positional-arg-name:"database_filepath" description:"messages database, sqlite file or postgres url"`
		ModelFile    string `positional-arg-name:"model_filepath" description:"file to save the trained model to"`
	} `positional-args:"yes"`

	Table    string  `long:"table" env:"TABLE" default:"disaster_messages" description:"table with labeled messages"`
	Limit    int     `long:"limit" env:"LIMIT" default:"0" description:"max messages to load, 0 for all"`
	TestSize float64 `long:"test-size" env:"TEST_SIZE" default:"0.2" description:"fraction of messages held out for evaluation"`
	Seed     int64   `long:"seed" env:"SEED" default:"0" description:"random seed, 0 picks a new one each run"`
	Workers  int     `long:"workers" env:"WORKERS" default:"4" description:"trees fitted concurrently"`

	Search struct {
		Skip        bool   `long:"skip" env:"SKIP" description:"no search, fit the first value of each parameter"`
		Iterations  int    `long:"iterations" env:"ITERATIONS" default:"10" description:"parameter sets sampled from the grid"`
		Folds       int    `long:"folds" env:"FOLDS" default:"3" description:"cross-validation folds"`
		Workers     int    `long:"workers" env:"WORKERS" default:"1" description:"folds fitted concurrently"`
		Params      string `long:"params" env:"PARAMS" description:"yaml file with parameter grid"`
		MaxDepth    []int  `long:"max-depth" env:"MAX_DEPTH" env-delim:"," description:"max tree depth values, overrides grid"`
		NEstimators []int  `long:"n-estimators" env:"N_ESTIMATORS" env-delim:"," description:"number of trees values, overrides grid"`
	} `group:"search" namespace:"search" env-namespace:"SEARCH"`

	NLP struct {
		StopWords string `long:"stop-words" env:"STOP_WORDS" description:"stop words file, builtin english list if not set"`
		Lemmas    string `long:"lemmas" env:"LEMMAS" description:"lemmas file, builtin lexicon if not set"`
	} `group:"nlp" namespace:"nlp" env-namespace:"NLP"`

	History struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"keep history of training runs"`
		FileName   string `long:"file" env:"FILE" default:"train-history.log" description:"location of history log"`
		MaxSize    string `long:"max-size" env:"MAX_SIZE" default:"10M" description:"maximum size before it gets rotated"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"5" description:"maximum number of old log files to retain"`
	} `group:"history" namespace:"history" env-namespace:"HISTORY"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

const usageText = "Please provide the filepath of the disaster messages database as the first argument " +
	"and the filepath of the model file to save the model to as the second argument.\n\n" +
	"Example: train-classifier ../data/DisasterResponse.db classifier.model\n"

var errUsage = errors.New("two positional arguments required")

var revision = "local"

func main() {
	opts, err := parseOpts(os.Args[1:])
	if err != nil {
		var fe *flags.Error
		switch {
		case errors.Is(err, errUsage):
			fmt.Print(usageText)
		case errors.As(err, &fe) && fe.Type == flags.ErrHelp:
		default:
			log.Printf("[ERROR] cli error: %v", err)
		}
		os.Exit(2)
	}

	setupLog(opts.Dbg)
	log.Printf("[DEBUG] train-classifier %s, options: %+v", revision, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// catch signal and stop training
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := execute(ctx, opts, os.Stdout); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

// parseOpts parses cli arguments, errUsage returned unless exactly two positional arguments given
func parseOpts(args []string) (options, error) {
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	rest, err := p.ParseArgs(args)
	if err != nil {
		return opts, err
	}
	if opts.Positional.DatabaseFile == "" || opts.Positional.ModelFile == "" || len(rest) > 0 {
		return opts, errUsage
	}
	if err := validate(opts); err != nil {
		return opts, err
	}
	return opts, nil
}

func validate(opts options) error {
	var errs *multierror.Error
	if opts.TestSize <= 0 || opts.TestSize >= 1 {
		errs = multierror.Append(errs, fmt.Errorf("test size %v must be in (0,1)", opts.TestSize))
	}
	if opts.Limit < 0 {
		errs = multierror.Append(errs, fmt.Errorf("negative limit %d", opts.Limit))
	}
	if opts.Workers < 1 || opts.Search.Workers < 1 {
		errs = multierror.Append(errs, errors.New("workers must be positive"))
	}
	if opts.Search.Iterations < 1 {
		errs = multierror.Append(errs, fmt.Errorf("invalid search iterations %d", opts.Search.Iterations))
	}
	if opts.Search.Folds < 2 {
		errs = multierror.Append(errs, fmt.Errorf("at least 2 folds required, got %d", opts.Search.Folds))
	}
	for _, d := range opts.Search.MaxDepth {
		if d < 0 {
			errs = multierror.Append(errs, fmt.Errorf("invalid max depth %d", d))
		}
	}
	for _, n := range opts.Search.NEstimators {
		if n < 1 {
			errs = multierror.Append(errs, fmt.Errorf("invalid number of trees %d", n))
		}
	}
	return errs.ErrorOrNil()
}

func execute(ctx context.Context, opts options, out io.Writer) error {
	runID := ulid.Make().String()
	started := time.Now()
	seed := opts.Seed
	if seed == 0 {
		seed = started.UnixNano()
	}
	log.Printf("[INFO] run %s, seed %d", runID, seed)

	res, err := textnorm.LoadResources(opts.NLP.StopWords, opts.NLP.Lemmas)
	if err != nil {
		return fmt.Errorf("can't load nlp resources: %w", err)
	}
	normalizer := textnorm.NewNormalizer(res)

	fmt.Fprintf(out, "Loading data...\n    DATABASE: %s\n", opts.Positional.DatabaseFile)
	data, err := loadData(ctx, opts)
	if err != nil {
		return fmt.Errorf("can't load data: %w", err)
	}
	train, test, err := data.Split(opts.TestSize, seed)
	if err != nil {
		return fmt.Errorf("can't split data: %w", err)
	}
	log.Printf("[INFO] %d messages, %d categories, train %d, test %d", data.Len(), len(data.Categories), train.Len(), test.Len())

	fmt.Fprintln(out, "Building model...")
	strategy, err := makeStrategy(opts, normalizer, data.Categories, seed)
	if err != nil {
		return fmt.Errorf("can't make model: %w", err)
	}

	fmt.Fprintln(out, "Training model...")
	result, err := strategy.Select(ctx, train.Texts, train.Labels)
	if err != nil {
		return fmt.Errorf("can't train model: %w", err)
	}

	fmt.Fprintln(out, "Evaluating model...")
	pred, err := result.Pipeline.Predict(test.Texts)
	if err != nil {
		return fmt.Errorf("can't predict test messages: %w", err)
	}
	report, err := metrics.Classification(test.Labels, pred, data.Categories)
	if err != nil {
		return fmt.Errorf("can't evaluate model: %w", err)
	}
	fmt.Fprint(out, report.String())

	fmt.Fprintf(out, "Saving model...\n    MODEL: %s\n", opts.Positional.ModelFile)
	model := &modelfile.Model{
		ID:         runID,
		CreatedAt:  started,
		Params:     result.Params,
		BestScore:  result.BestScore,
		Candidates: result.Candidates,
		Pipeline:   result.Pipeline,
	}
	if err := modelfile.Save(opts.Positional.ModelFile, model); err != nil {
		return fmt.Errorf("can't save model: %w", err)
	}
	if fi, err := os.Stat(opts.Positional.ModelFile); err == nil {
		log.Printf("[INFO] model %s saved, %s, took %v", runID, humanize.Bytes(uint64(fi.Size())), time.Since(started).Round(time.Millisecond))
	}
	fmt.Fprintln(out, "Trained model saved!")

	wr, err := makeHistoryWriter(opts)
	if err != nil {
		log.Printf("[WARN] can't make history writer, %v", err)
		return nil
	}
	defer wr.Close()
	writeHistory(wr, historyRecord{
		RunID:     runID,
		TimeStamp: started.In(time.Local).Format(time.RFC3339),
		Database:  opts.Positional.DatabaseFile,
		Model:     opts.Positional.ModelFile,
		Seed:      seed,
		Params:    result.Params,
		BestScore: result.BestScore,
		Messages:  data.Len(),
		MicroF1:   report.Micro.F1,
		MacroF1:   report.Macro.F1,
		Duration:  time.Since(started).Round(time.Millisecond).String(),
	})
	return nil
}

// loadData reads the corpus, the database is opened and closed here
func loadData(ctx context.Context, opts options) (*corpus.Corpus, error) {
	db, err := engine.New(ctx, opts.Positional.DatabaseFile)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	msgs, err := storage.NewMessages(db)
	if err != nil {
		return nil, err
	}
	data, err := msgs.Load(ctx, storage.LoadRequest{Table: opts.Table, Limit: opts.Limit})
	if err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	return data, nil
}

// makeStrategy makes randomized search over the grid, or fixed parameters if search skipped
func makeStrategy(opts options, analyzer pipeline.Analyzer, categories []string, seed int64) (search.Strategy, error) {
	grid := search.DefaultGrid()
	if opts.Search.Params != "" {
		g, err := search.LoadGrid(opts.Search.Params)
		if err != nil {
			return nil, err
		}
		grid = g
	}
	if len(opts.Search.MaxDepth) > 0 {
		grid.MaxDepth = opts.Search.MaxDepth
	}
	if len(opts.Search.NEstimators) > 0 {
		grid.NEstimators = opts.Search.NEstimators
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	factory := func(p pipeline.Params) *pipeline.Pipeline {
		return pipeline.New(analyzer, categories, p, forest.WithSeed(seed), forest.WithWorkers(opts.Workers))
	}

	if opts.Search.Skip {
		params := pipeline.Params{MaxDepth: grid.MaxDepth[0], NEstimators: grid.NEstimators[0]}
		log.Printf("[INFO] search skipped, %s", params)
		return &search.Fixed{Params: params, Factory: factory}, nil
	}
	log.Printf("[INFO] search grid max_depth=%v, n_estimators=%v, %d iterations, %d folds",
		grid.MaxDepth, grid.NEstimators, opts.Search.Iterations, opts.Search.Folds)
	return &search.RandomizedSearch{
		Grid:    grid,
		NIter:   opts.Search.Iterations,
		Folds:   opts.Search.Folds,
		Seed:    seed,
		Workers: opts.Search.Workers,
		Factory: factory,
	}, nil
}

type historyRecord struct {
	RunID     string          `json:"run_id"`
	TimeStamp string          `json:"ts"`
	Database  string          `json:"database"`
	Model     string          `json:"model"`
	Seed      int64           `json:"seed"`
	Params    pipeline.Params `json:"params"`
	BestScore float64         `json:"best_score"`
	Messages  int             `json:"messages"`
	MicroF1   float64         `json:"micro_f1"`
	MacroF1   float64         `json:"macro_f1"`
	Duration  string          `json:"duration"`
}

// writeHistory writes the record as a json line
func writeHistory(wr io.Writer, rec historyRecord) {
	line, err := json.Marshal(&rec)
	if err != nil {
		log.Printf("[WARN] can't marshal json, %v", err)
		return
	}
	if _, err := wr.Write(append(line, '\n')); err != nil {
		log.Printf("[WARN] can't write to history, %v", err)
	}
}

// makeHistoryWriter creates writer for the history of training runs
// it parses options and makes lumberjack logger with rotation
func makeHistoryWriter(opts options) (io.WriteCloser, error) {
	if !opts.History.Enabled {
		return nopWriteCloser{io.Discard}, nil
	}

	maxSize, err := sizeParse(opts.History.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("can't parse history MaxSize: %w", err)
	}
	maxSize /= 1048576

	log.Printf("[INFO] history enabled for %s, max size %dM", opts.History.FileName, maxSize)
	return &lumberjack.Logger{
		Filename:   opts.History.FileName,
		MaxSize:    int(max(maxSize, 1)), // in MB
		MaxBackups: opts.History.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}, nil
}

// sizeParse parses size with optional k/m/g/t suffix
func sizeParse(inp string) (uint64, error) {
	if inp == "" {
		return 0, errors.New("empty value")
	}
	for i, sfx := range []string{"k", "m", "g", "t"} {
		if strings.HasSuffix(inp, strings.ToUpper(sfx)) || strings.HasSuffix(inp, strings.ToLower(sfx)) {
			val, err := strconv.Atoi(inp[:len(inp)-1])
			if err != nil {
				return 0, fmt.Errorf("can't parse %s: %w", inp, err)
			}
			return uint64(float64(val) * math.Pow(float64(1024), float64(i+1))), nil
		}
	}
	return strconv.ParseUint(inp, 10, 64)
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
