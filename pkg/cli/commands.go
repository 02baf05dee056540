package cli

import (
	"fmt"
	"strconv"

	"imgload/pkg/common"
	"imgload/pkg/config"

	"github.com/dustin/go-humanize"
)

// loadFlags are shared by fetch and page.
type loadFlags struct {
	Size        common.Size
	Workers     int
	Out         string
	Plain       bool
	MetricsAddr string
}

type fetchParams struct {
	loadFlags
	Sources []common.Source
}

type pageParams struct {
	loadFlags
	URLs []string
	JQ   string
}

type cacheTrimParams struct {
	Budget int64
}

func bindLoadFlags(inv *Invocation, s config.Settings) (loadFlags, error) {
	f := loadFlags{
		Out:         inv.String("out"),
		Plain:       inv.Bool("plain"),
		MetricsAddr: inv.String("metrics-addr"),
		Workers:     s.Workers,
	}

	var err error
	if v := inv.String("size"); v != "" {
		f.Size, err = common.ParseSize(v)
	} else {
		f.Size, err = s.Size()
	}
	if err != nil {
		return f, err
	}

	if v := inv.String("workers"); v != "" {
		f.Workers, err = strconv.Atoi(v)
		if err != nil || f.Workers < 1 {
			return f, fmt.Errorf("invalid worker count %q", v)
		}
	}
	return f, nil
}

func bindFetch(inv *Invocation, s config.Settings) (*fetchParams, error) {
	flags, err := bindLoadFlags(inv, s)
	if err != nil {
		return nil, err
	}
	p := &fetchParams{loadFlags: flags}
	for _, arg := range inv.Lists["sources"] {
		p.Sources = append(p.Sources, common.ParseSource(arg))
	}
	return p, nil
}

func bindPage(inv *Invocation, s config.Settings) (*pageParams, error) {
	flags, err := bindLoadFlags(inv, s)
	if err != nil {
		return nil, err
	}
	return &pageParams{
		loadFlags: flags,
		URLs:      inv.Lists["urls"],
		JQ:        inv.String("jq"),
	}, nil
}

func bindCacheTrim(inv *Invocation) (*cacheTrimParams, error) {
	v := inv.Args["budget"]
	if v == "0" {
		return &cacheTrimParams{}, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return nil, fmt.Errorf("invalid budget %q: %w", v, err)
	}
	return &cacheTrimParams{Budget: int64(n)}, nil
}
