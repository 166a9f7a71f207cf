// Package synonym expands query terms into groups of interchangeable surface
// forms. A table is loaded once at startup and is read-only afterwards.
package synonym

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Table maps a canonical term to its group. Every group contains its
// canonical term.
type Table struct {
	groups map[string][]string
}

var defaultGroups = map[string][]string{
	"移住":   {"移住", "住み替え", "移転", "転入", "引越し"},
	"空き家":  {"空き家", "空家", "空室", "空屋"},
	"子育て":  {"子育て", "育児", "保育", "子ども", "児童"},
	"高齢者":  {"高齢者", "シニア", "老人", "お年寄り", "高齢化"},
	"福祉":   {"福祉", "社会福祉", "福祉サービス", "福祉施設"},
	"防災":   {"防災", "災害", "地震", "避難", "防火", "防犯"},
	"健康":   {"健康", "医療", "病院", "診療", "検診"},
	"教育":   {"教育", "学校", "小学校", "中学校", "高校", "学習"},
	"環境":   {"環境", "エコ", "リサイクル", "ごみ", "廃棄物"},
	"交通":   {"交通", "バス", "電車", "公共交通", "道路"},
	"地域":   {"地域", "自治会", "町内会", "コミュニティ"},
	"観光":   {"観光", "旅行", "観光地", "名所", "観光案内"},
	"産業":   {"産業", "工業", "商業", "農業", "漁業"},
	"雇用":   {"雇用", "就職", "求人", "仕事", "労働"},
	"税金":   {"税金", "住民税", "固定資産税", "納税"},
	"行政":   {"行政", "役所", "市役所", "町役場", "区役所"},
	"補助金":  {"補助金", "助成金", "給付金", "支援金"},
	"文化":   {"文化", "伝統", "祭り", "イベント", "文化財"},
	"スポーツ": {"スポーツ", "運動", "体育", "部活動"},
	"住宅":   {"住宅", "住まい", "家", "住居", "マンション"},
}

// Default returns the built-in table.
func Default() *Table {
	return New(defaultGroups)
}

// New builds a table from canonical → forms, copying the input. The
// canonical term is put first in its group if missing; empty and repeated
// forms are dropped.
func New(groups map[string][]string) *Table {
	t := &Table{groups: make(map[string][]string, len(groups))}
	for canonical, forms := range groups {
		if canonical == "" {
			continue
		}
		group := []string{canonical}
		seen := map[string]struct{}{canonical: {}}
		for _, f := range forms {
			if f == "" {
				continue
			}
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			group = append(group, f)
		}
		t.groups[canonical] = group
	}
	return t
}

// Load reads a YAML mapping of canonical term to a list of forms.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading synonym file %s: %w", path, err)
	}
	var groups map[string][]string
	if err := yaml.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("parsing synonym file %s: %w", path, err)
	}
	return New(groups), nil
}

// LoadOrDefault loads path, or returns the built-in table when path is "".
func LoadOrDefault(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Len returns the number of groups.
func (t *Table) Len() int {
	return len(t.groups)
}

// Group returns the forms for term; an unknown term is its own singleton
// group. The returned slice must not be modified.
func (t *Table) Group(term string) []string {
	if g, ok := t.groups[term]; ok {
		return g
	}
	return []string{term}
}

// Expand maps each term to its group, preserving term order.
func (t *Table) Expand(terms []string) [][]string {
	out := make([][]string, len(terms))
	for i, term := range terms {
		out[i] = t.Group(term)
	}
	return out
}
