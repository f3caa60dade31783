package advisory

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a knowledge base from a YAML file. See Load for the format.
func LoadFile(path string) (KnowledgeBase, error) {
	f, err := os.Open(path)
	if err != nil {
		return KnowledgeBase{}, fmt.Errorf("open knowledge base: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a knowledge base from YAML of the form
//
//	recycling:
//	  battery:
//	    - Recycle at certified e-waste centers
//	reuse:
//	  laptop:
//	    - Convert to a digital photo frame
//
// Category order in the document is the match precedence. A missing table
// section yields an empty table.
func Load(r io.Reader) (KnowledgeBase, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return KnowledgeBase{}, fmt.Errorf("%w: document is empty", ErrInvalidKnowledgeBase)
		}
		return KnowledgeBase{}, fmt.Errorf("%w: %v", ErrInvalidKnowledgeBase, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return KnowledgeBase{}, fmt.Errorf("%w: document is empty", ErrInvalidKnowledgeBase)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return KnowledgeBase{}, fmt.Errorf("%w: line %d: top level must be a mapping", ErrInvalidKnowledgeBase, root.Line)
	}

	sections := map[string][]Category{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		switch key.Value {
		case TableRecycling, TableReuse:
		default:
			return KnowledgeBase{}, fmt.Errorf("%w: line %d: unknown table %q", ErrInvalidKnowledgeBase, key.Line, key.Value)
		}
		categories, err := decodeCategories(value)
		if err != nil {
			return KnowledgeBase{}, err
		}
		sections[key.Value] = categories
	}

	recycling, err := NewTable(TableRecycling, sections[TableRecycling]...)
	if err != nil {
		return KnowledgeBase{}, err
	}
	reuse, err := NewTable(TableReuse, sections[TableReuse]...)
	if err != nil {
		return KnowledgeBase{}, err
	}
	return KnowledgeBase{Recycling: recycling, Reuse: reuse}, nil
}

func decodeCategories(node *yaml.Node) ([]Category, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: line %d: table must map categories to lists", ErrInvalidKnowledgeBase, node.Line)
	}
	categories := make([]Category, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var items []string
		if err := value.Decode(&items); err != nil {
			return nil, fmt.Errorf("%w: line %d: category %q: %v", ErrInvalidKnowledgeBase, value.Line, key.Value, err)
		}
		categories = append(categories, Category{Key: key.Value, Items: items})
	}
	return categories, nil
}
