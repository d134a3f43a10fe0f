package store

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"
)

// Catalog はシード用の商家・商品一覧です。
type Catalog struct {
	Businesses []Business `yaml:"businesses"`
	Foods      []Food     `yaml:"foods"`
}

// DecodeCatalog は YAML からカタログを読み込みます。
func DecodeCatalog(r io.Reader) (*Catalog, error) {
	var cat Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return &cat, nil
}

// LoadCatalogFile はファイルからカタログを読み込みます。
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeCatalog(f)
}

// SeedResult は投入件数です。
type SeedResult struct {
	Businesses int
	Foods      int
}

// Seed はカタログを ID キーで upsert します。何度実行しても同じ結果になります。
func Seed(ctx context.Context, db *sqlx.DB, cat *Catalog) (SeedResult, error) {
	var res SeedResult
	businesses := NewBusinessRepo(db)
	foods := NewFoodRepo(db)

	known := make(map[int]bool, len(cat.Businesses))
	for i := range cat.Businesses {
		b := &cat.Businesses[i]
		if b.ID <= 0 || b.BusinessName == "" {
			return res, fmt.Errorf("business #%d: id and businessName are required", i)
		}
		if err := businesses.Upsert(ctx, b); err != nil {
			return res, fmt.Errorf("failed to upsert business %d: %w", b.ID, err)
		}
		known[b.ID] = true
		res.Businesses++
	}
	for i := range cat.Foods {
		f := &cat.Foods[i]
		if f.ID <= 0 || f.Name == "" {
			return res, fmt.Errorf("food #%d: id and name are required", i)
		}
		if !known[f.Business] {
			if _, err := businesses.ByID(ctx, f.Business); err != nil {
				return res, fmt.Errorf("food %d references unknown business %d: %w", f.ID, f.Business, err)
			}
			known[f.Business] = true
		}
		if err := foods.Upsert(ctx, f); err != nil {
			return res, fmt.Errorf("failed to upsert food %d: %w", f.ID, err)
		}
		res.Foods++
	}
	return res, nil
}
