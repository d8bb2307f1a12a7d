package generation

// Default prompt templates. Each is a fmt template; the verbs are listed above
// it.

// tree: domain, guideline text
const defaultTreePrompt = `You are a clinical informaticist. Convert the guideline below into an executable decision tree.

Output a single JSON object only, no markdown and no explanation:
{
  "id": "snake_case_id",
  "name": "human readable name",
  "version": "1.0.0",
  "domain": "%[1]s",
  "root_node_id": "<id of the first node>",
  "nodes": {
    "<node id>": {
      "id": "<node id>",
      "type": "root" | "condition" | "action",
      "label": "short label",
      "condition": {"variable": "snake_case", "operator": ">" | "<" | ">=" | "<=" | "==" | "!=" | "present" | "absent" | "contains", "threshold": <number, boolean or string>},
      "action": {"recommendation": "what to do", "urgency_level": "emergency" | "urgent" | "routine" | "deferred"},
      "children": ["<id taken when the condition holds>", "<id taken otherwise>"],
      "metadata": {"confidence": <0..1>, "source_text": "quoted guideline sentence"}
    }
  },
  "variables": [{"name": "snake_case", "type": "numeric" | "boolean" | "categorical", "units": "optional"}]
}

Condition nodes carry a condition and two children. Action nodes carry an action and no children.

Domain: %[1]s

Guideline text:

%[2]s`

// variables: guideline text
const defaultVariablesPrompt = `You are a clinical data analyst. Extract all decision-relevant variables from the guideline text.
Output a JSON array only. Each element: {"name": "snake_case", "type": "numeric"|"boolean"|"categorical", "units": optional, "description": optional, "terminology_mapping": optional {"SNOMED": ["..."], "LOINC": ["..."]}}.
No markdown, no explanation.

Guideline text:

%s`

// test cases: count, tree id, variable list, node summary
const defaultTestCasesPrompt = `You are a test data generator. Generate exactly %[1]d test cases for the decision tree below.
Each test case must have:
- input_values: a JSON object keyed by the variable names below, with realistic clinical values (numbers, booleans or strings).
- expected_path: the node ids traversed from the root to the final action.
- expected_outcome: the final recommendation text.

Include boundary values (exactly at a threshold), missing data (omit a variable or use null) and normal cases.
Return a JSON array of objects with keys: id, tree_id ("%[2]s"), input_values, expected_path, expected_outcome.
No markdown, no explanation, only the JSON array.

Variables: %[3]s

Nodes: %[4]s`

// refine: node JSON, instruction
const defaultRefinePrompt = `You edit single nodes of a clinical decision tree. Apply the instruction to the node and return the full node as one JSON object, no markdown.

Current node (JSON):
%s

Instruction: %s`
