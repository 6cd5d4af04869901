package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/viper"
	"github.com/usnistgov/daqstream"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist returns dir/filename, creating the directory and an empty
// file when they are missing. Environment variables in dir are expanded.
func makeFileExist(dir, filename string) (string, error) {
	dir = os.ExpandEnv(dir)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", err
	}
	name := filepath.Join(dir, filename)
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0664)
	if err != nil {
		return "", err
	}
	return name, f.Close()
}

// configureViper installs the defaults and lets DAQSTREAM_<SECTION>_<KEY>
// environment variables override any key, e.g. DAQSTREAM_PUBLISH_PORT.
func configureViper() {
	viper.SetDefault("verbose", false)
	setDefaults()
	viper.SetEnvPrefix("daqstream")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// readConfig reads config.yaml from /etc/daqstream, home, or the working
// directory, creating an empty one in home so there is a file to edit.
func readConfig(home string) error {
	if _, err := makeFileExist(home, "config.yaml"); err != nil {
		return err
	}
	viper.SetConfigName("config")
	viper.AddConfigPath("/etc/daqstream")
	viper.AddConfigPath(home)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// rotatingLogger writes to dir/name, rotating at 10 MB and keeping
// 4 compressed backups for up to 180 days.
func rotatingLogger(dir, name string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    10,
		MaxBackups: 4,
		MaxAge:     180,
		Compress:   true,
	}, "", log.LstdFlags)
}

func setBuildInfo() {
	daqstream.Build.Date = strings.ReplaceAll(buildDate, ".", " ")
	daqstream.Build.Githash = githash
	daqstream.Build.Gitdate = gitdate
	daqstream.Build.Summary = fmt.Sprintf("daqstream version %s (git commit %s of %s)",
		daqstream.Build.Version, githash, gitdate)
	daqstream.Build.Host = "host not detected"
	if host, err := os.Hostname(); err == nil {
		daqstream.Build.Host = host
	}
}

func main() {
	setBuildInfo()
	printVersion := flag.Bool("version", false, "print version and quit")
	simulate := flag.Bool("simulate", false, "acquire from the simulated driver instead of NI-DAQmx")
	verbose := flag.Bool("verbose", false, "print the effective configuration")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Println(daqstream.Build.Summary)
		fmt.Printf("Built %s with %s, driver %s\n", daqstream.Build.Date, runtime.Version(), driverName)
		return
	}
	fmt.Printf("\n%s\n", daqstream.Build.Summary)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	home := filepath.Join(userHome, ".daqstream")
	logdir := filepath.Join(home, "logs")
	daqstream.ProblemLogger = rotatingLogger(logdir, "problems.log")
	daqstream.UpdateLogger = rotatingLogger(logdir, "updates.log")
	fmt.Printf("Logging to %s\n\n", logdir)
	daqstream.UpdateLogger.Printf("starting %s", daqstream.Build.Summary)

	configureViper()
	if err := readConfig(home); err != nil {
		log.Fatal(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	cfg.Verbose = cfg.Verbose || *verbose
	if cfg.Verbose {
		spew.Dump(cfg)
	}

	d, err := openDriver(*simulate)
	if err != nil {
		log.Fatal(err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	abort := make(chan struct{})
	go func() {
		sig := <-interrupt
		daqstream.UpdateLogger.Printf("received %v, stopping", sig)
		close(abort)
	}()

	if err := run(d, cfg, abort); err != nil {
		daqstream.ProblemLogger.Print(err)
		fmt.Println(err)
	}
	if *memprofile != "" {
		if err := writeHeapProfile(*memprofile); err != nil {
			log.Fatal(err)
		}
	}
}

func writeHeapProfile(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}
