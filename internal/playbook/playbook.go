package playbook

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile 描述一组有序的步骤模板。模板中的 %s 会被替换为目标文本。
type Profile struct {
	Name      string   `yaml:"name"`
	Templates []string `yaml:"templates"`
}

// Definitions 对应 playbook 配置文件的整体结构。
type Definitions struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// defaultTemplates 是内置的三步规划模板。
var defaultTemplates = []string{
	"Research %s",
	"Draft outline for %s",
	"Create final output for %s",
}

// Default 返回内置的默认规划模板。
func Default() *Profile {
	return &Profile{
		Name:      "default",
		Templates: append([]string(nil), defaultTemplates...),
	}
}

// Steps 将目标套用到全部模板上，返回有序的步骤描述。
func (p *Profile) Steps(goal string) []string {
	if p == nil || len(p.Templates) == 0 {
		p = Default()
	}
	steps := make([]string, 0, len(p.Templates))
	for _, template := range p.Templates {
		if strings.Contains(template, "%s") {
			steps = append(steps, fmt.Sprintf(template, goal))
			continue
		}
		steps = append(steps, template)
	}
	return steps
}

// Load 解析 YAML 格式的 playbook 定义文件。
func Load(path string) (*Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return &Definitions{Profiles: map[string]Profile{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 playbook 配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析 playbook 配置失败: %w", err)
	}
	if defs.Profiles == nil {
		defs.Profiles = map[string]Profile{}
	}
	for name, profile := range defs.Profiles {
		if profile.Name == "" {
			profile.Name = name
			defs.Profiles[name] = profile
		}
	}
	return &defs, nil
}

// Profile 根据名称查找模板，未找到时返回内置默认模板。
func (d *Definitions) Profile(name string) *Profile {
	if d != nil {
		if profile, ok := d.Profiles[strings.TrimSpace(name)]; ok && len(profile.Templates) > 0 {
			clone := profile
			clone.Templates = append([]string(nil), profile.Templates...)
			return &clone
		}
	}
	return Default()
}
